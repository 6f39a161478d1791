package store

import (
	"context"
	"errors"

	"github.com/agentc2/wfrt/pkg/schema"
)

// Lookup resolves workflow references against stored workflows,
// first by id and then by name.
type Lookup struct {
	Store Store
}

// Resolve returns the stored definition for idOrSlug.
func (l Lookup) Resolve(ctx context.Context, idOrSlug string) (*schema.WorkflowDefinition, error) {
	wf, err := l.Store.GetWorkflow(ctx, idOrSlug)
	if errors.Is(err, ErrNotFound) {
		wf, err = l.Store.GetWorkflowByName(ctx, idOrSlug)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", idOrSlug).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore, "resolve workflow %q: %v", idOrSlug, err).WithCause(err)
	}
	def := wf.Definition
	if def.ID == "" {
		def.ID = wf.ID
	}
	return &def, nil
}
