package expressions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Source resolves dotted paths. *Scope implements it.
type Source interface {
	Lookup(path string) (any, bool)
}

// MapSource adapts a plain map to Source.
type MapSource map[string]any

// Lookup implements Source.
func (m MapSource) Lookup(path string) (any, bool) {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return nil, false
	}
	root, ok := m[segments[0]]
	if !ok {
		return nil, false
	}
	return LookupPath(root, segments[1:])
}

// Overlay resolves from Top first and falls back to Base.
type Overlay struct {
	Top  Source
	Base Source
}

// Lookup implements Source.
func (o Overlay) Lookup(path string) (any, bool) {
	if v, ok := o.Top.Lookup(path); ok {
		return v, true
	}
	return o.Base.Lookup(path)
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// IsTemplate reports whether s contains a {{...}} placeholder.
func IsTemplate(s string) bool {
	return placeholderRe.MatchString(s)
}

// Resolve returns v with every {{path}} placeholder replaced. Maps and
// slices are walked recursively and copied. A string that is exactly one
// placeholder yields the raw referenced value; placeholders embedded in
// longer text are rendered as text. Missing paths yield nil. Values without
// placeholders are literals and pass through unchanged.
func Resolve(v any, src Source) any {
	switch val := v.(type) {
	case string:
		return resolveString(val, src)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Resolve(item, src)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Resolve(item, src)
		}
		return out
	default:
		return Normalize(v)
	}
}

// ResolveMap resolves an input mapping. A nil mapping resolves to an empty
// object.
func ResolveMap(mapping map[string]any, src Source) map[string]any {
	if mapping == nil {
		return map[string]any{}
	}
	out, _ := Resolve(mapping, src).(map[string]any)
	return out
}

// Render resolves every placeholder in s as text.
func Render(s string, src Source) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		val, _ := src.Lookup(path)
		return Stringify(val)
	})
}

// ResolvePath resolves a bare path or a single-placeholder string.
func ResolvePath(path string, src Source) (any, bool) {
	path = strings.TrimSpace(path)
	if m := placeholderRe.FindStringSubmatch(path); m != nil && m[0] == path {
		path = m[1]
	}
	return src.Lookup(path)
}

func resolveString(s string, src Source) any {
	locs := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return s
	}
	if len(locs) == 1 && locs[0][0] == 0 && locs[0][1] == len(s) {
		val, _ := src.Lookup(s[locs[0][2]:locs[0][3]])
		return DeepCopy(val)
	}
	return Render(s, src)
}

// Stringify renders a resolved value for embedding in text. nil renders
// as the empty string and composites as compact JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// References returns the sorted, de-duplicated root variables referenced by
// placeholders anywhere in v.
func References(v any) []string {
	seen := make(map[string]bool)
	collectRefs(v, seen)
	refs := make([]string, 0, len(seen))
	for r := range seen {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	return refs
}

func collectRefs(v any, seen map[string]bool) {
	switch val := v.(type) {
	case string:
		for _, m := range placeholderRe.FindAllStringSubmatch(val, -1) {
			if segs := SplitPath(m[1]); len(segs) > 0 {
				seen[segs[0]] = true
			}
		}
	case map[string]any:
		for _, item := range val {
			collectRefs(item, seen)
		}
	case []any:
		for _, item := range val {
			collectRefs(item, seen)
		}
	}
}
