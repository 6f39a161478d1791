package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/agentc2/wfrt/internal/diagram"
	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/pkg/schema"
)

func runDiagram(args []string) int {
	fs := flag.NewFlagSet("diagram", flag.ExitOnError)
	file := fs.String("f", "", "workflow definition file (YAML or JSON)")
	runID := fs.String("run", "", "draw a stored run with its step statuses")
	format := fs.String("format", "ascii", "output format: ascii or mermaid")
	configPath := fs.String("config", "", "settings file (default: ~/.wfrt/settings.yaml)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if (*file == "") == (*runID == "") {
		return fail("use exactly one of -f or --run")
	}

	var (
		def    *schema.WorkflowDefinition
		events []*store.Event
		err    error
	)
	if *file != "" {
		def, err = loadDefinition(*file)
	} else {
		def, events, err = loadRun(*configPath, *runID)
	}
	if err != nil {
		return fail("%v", err)
	}

	model, err := diagram.Build(def, events)
	if err != nil {
		return fail("%v", err)
	}
	out, err := renderDiagram(model, *format)
	if err != nil {
		return fail("%v", err)
	}
	fmt.Print(out)
	return 0
}

// loadRun reads a run's definition and event log from the configured store.
func loadRun(configPath, runID string) (*schema.WorkflowDefinition, []*store.Event, error) {
	cfg, err := loadConfig(configPath, os.Getenv)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		return nil, nil, err
	}
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("run %s: %w", runID, err)
	}
	events, err := st.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, nil, err
	}
	return &run.Definition, events, nil
}

func renderDiagram(model *diagram.Model, format string) (string, error) {
	switch format {
	case "ascii", "":
		return diagram.RenderASCII(model), nil
	case "mermaid":
		return diagram.RenderMermaid(model), nil
	default:
		return "", fmt.Errorf("unknown format %q (want ascii or mermaid)", format)
	}
}
