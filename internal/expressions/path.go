package expressions

import (
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// SplitPath splits a dotted path into segments. Bracket indexes are
// accepted as an alternative to numeric segments: "a.items[0].name" and
// "a.items.0.name" are equivalent.
func SplitPath(path string) []string {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	path = strings.ReplaceAll(path, "]", "")
	path = strings.ReplaceAll(path, "[", ".")

	raw := strings.Split(path, ".")
	segments := make([]string, 0, len(raw))
	for _, seg := range raw {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

// LookupPath traverses root along segments. Numeric segments index into
// arrays. It reports false when any segment cannot be traversed: a missing
// key, an index into a non-array or an out-of-range index.
func LookupPath(root any, segments []string) (any, bool) {
	if len(segments) == 0 {
		return root, true
	}
	container := gabs.Wrap(root)
	if !container.Exists(segments...) {
		return nil, false
	}
	return container.Search(segments...).Data(), true
}
