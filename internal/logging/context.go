package logging

import (
	"context"
	"log/slog"
)

// correlation is what a context contributes to every record logged with
// it. step is the step's path, so nested steps stay distinguishable.
type correlation struct {
	runID      string
	workflowID string
	step       string
}

type ctxKey struct{}

func fields(ctx context.Context) correlation {
	c, _ := ctx.Value(ctxKey{}).(correlation)
	return c
}

func withFields(ctx context.Context, c correlation) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func WithRunID(ctx context.Context, id string) context.Context {
	c := fields(ctx)
	c.runID = id
	return withFields(ctx, c)
}

func WithWorkflowID(ctx context.Context, id string) context.Context {
	c := fields(ctx)
	c.workflowID = id
	return withFields(ctx, c)
}

// WithStep records the path of the executing step ("route/yes/approve").
func WithStep(ctx context.Context, path string) context.Context {
	c := fields(ctx)
	c.step = path
	return withFields(ctx, c)
}

func RunID(ctx context.Context) string      { return fields(ctx).runID }
func WorkflowID(ctx context.Context) string { return fields(ctx).workflowID }
func StepPath(ctx context.Context) string   { return fields(ctx).step }

func (c correlation) attrs() []slog.Attr {
	var attrs []slog.Attr
	if c.runID != "" {
		attrs = append(attrs, slog.String("run_id", c.runID))
	}
	if c.workflowID != "" {
		attrs = append(attrs, slog.String("workflow_id", c.workflowID))
	}
	if c.step != "" {
		attrs = append(attrs, slog.String("step", c.step))
	}
	return attrs
}

// correlationHandler adds the context's correlation fields to each record,
// so callers only need the *Context logging methods.
type correlationHandler struct {
	inner slog.Handler
}

func (h correlationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h correlationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(fields(ctx).attrs()...)
	return h.inner.Handle(ctx, r)
}

func (h correlationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return correlationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h correlationHandler) WithGroup(name string) slog.Handler {
	return correlationHandler{inner: h.inner.WithGroup(name)}
}
