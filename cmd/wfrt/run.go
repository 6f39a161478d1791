package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/agentc2/wfrt/internal/logging"
	"github.com/agentc2/wfrt/internal/runner"
	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/pkg/schema"
)

// stringSlice collects a repeatable flag.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ", ") }

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	file := fs.String("f", "", "workflow definition file (YAML or JSON)")
	inputFile := fs.String("i", "", "input JSON file")
	configPath := fs.String("config", "", "settings file (default: ~/.wfrt/settings.yaml)")
	var sets stringSlice
	fs.Var(&sets, "set", "input value as key=value, parsed as JSON when possible (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		return fail("workflow file is required (-f)")
	}

	def, err := loadDefinition(*file)
	if err != nil {
		return fail("%v", err)
	}
	input, err := loadInput(*inputFile, sets)
	if err != nil {
		return fail("%v", err)
	}

	cfg, err := loadConfig(*configPath, os.Getenv)
	if err != nil {
		return fail("%v", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return fail("%v", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger, appOptions{offline: true})
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	color.Cyan("Workflow: %s", def)
	run, err := a.runner.Start(ctx, runner.StartRequest{Definition: def, Input: input})
	if err != nil {
		return fail("%v", err)
	}
	return printRun(os.Stdout, run)
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	file := fs.String("f", "", "workflow definition file (YAML or JSON)")
	configPath := fs.String("config", "", "settings file (default: ~/.wfrt/settings.yaml)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		return fail("workflow file is required (-f)")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fail("%v", err)
	}
	cfg, err := loadConfig(*configPath, os.Getenv)
	if err != nil {
		return fail("%v", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logging.Discard(), appOptions{offline: true})
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	_, result := a.validator.ValidateDocument(ctx, data)
	return printValidation(os.Stdout, *file, result)
}

func loadDefinition(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return schema.ParseDefinition(data)
}

// loadInput reads the optional input file and applies --set overrides.
func loadInput(path string, sets []string) (map[string]any, error) {
	input := make(map[string]any)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: use key=value", kv)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		input[key] = parsed
	}
	return input, nil
}

// printRun reports a run's outcome and returns the exit code: 1 for a
// failed run.
func printRun(w io.Writer, run *store.Run) int {
	fmt.Fprintf(w, "Run: %s\n", run.ID)
	switch run.Status {
	case schema.RunStatusSuccess:
		color.New(color.FgGreen).Fprintln(w, "Status: success")
	case schema.RunStatusSuspended:
		color.New(color.FgYellow).Fprintln(w, "Status: suspended")
		if run.State != nil {
			for _, s := range run.State.Suspended {
				line := fmt.Sprintf("  %s (%s)", s.Path, s.Kind)
				if s.Prompt != "" {
					line += ": " + s.Prompt
				}
				if s.ResumeAt != nil {
					line += " at " + s.ResumeAt.Format("2006-01-02T15:04:05Z07:00")
				}
				fmt.Fprintln(w, line)
			}
		}
	default:
		color.New(color.FgRed).Fprintf(w, "Status: %s\n", run.Status)
		if run.Error != nil {
			color.New(color.FgRed).Fprintf(w, "Error: %s\n", run.Error.Error())
		}
		return 1
	}

	if len(run.Output) > 0 {
		var pretty any
		if err := json.Unmarshal(run.Output, &pretty); err == nil {
			if b, err := json.MarshalIndent(pretty, "", "  "); err == nil {
				color.New(color.FgMagenta).Fprintln(w, "Output:")
				fmt.Fprintln(w, string(b))
			}
		}
	}
	return 0
}

// printValidation lists issues and returns 1 when the definition is invalid.
func printValidation(w io.Writer, file string, result *schema.ValidationResult) int {
	for _, is := range result.Errors {
		color.New(color.FgRed).Fprintf(w, "error   %s [%s] %s\n", is.Path, is.Code, is.Message)
	}
	for _, is := range result.Warnings {
		color.New(color.FgYellow).Fprintf(w, "warning %s [%s] %s\n", is.Path, is.Code, is.Message)
	}
	if !result.Valid() {
		color.New(color.FgRed).Fprintf(w, "%s: invalid (%d errors)\n", file, len(result.Errors))
		return 1
	}
	color.New(color.FgGreen).Fprintf(w, "%s: valid\n", file)
	return 0
}
