package engine

import (
	"context"

	"github.com/agentc2/wfrt/internal/expressions"
	"github.com/agentc2/wfrt/pkg/schema"
)

// transformExecutor outputs the resolved input mapping, optionally reshaped
// by a jq filter. It never calls out.
type transformExecutor struct {
	jq *expressions.JQEngine
}

func (x *transformExecutor) Type() schema.StepType { return schema.StepTypeTransform }

func (x *transformExecutor) Validate(step *schema.StepDefinition) ([]NestedList, error) {
	var cfg schema.TransformConfig
	if err := schema.DecodeConfig(step, &cfg); err != nil {
		return nil, err
	}
	if cfg.JQ != "" {
		if err := x.jq.Check(cfg.JQ); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (x *transformExecutor) Execute(ctx context.Context, call *Call) (Outcome, error) {
	var cfg schema.TransformConfig
	if err := schema.DecodeConfig(call.Step, &cfg); err != nil {
		return Outcome{}, err
	}
	if cfg.JQ == "" {
		return Outcome{Output: call.Input}, nil
	}
	out, err := x.jq.Run(ctx, cfg.JQ, call.Input)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Output: out}, nil
}
