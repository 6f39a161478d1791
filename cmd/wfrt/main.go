// Command wfrt runs declarative agent workflows.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

const usage = `wfrt - declarative agent workflow runtime

Usage:
  wfrt serve    [--config path]                  run the HTTP API, scheduler and optional MCP server
  wfrt run      -f def.yaml [-i input.json] [--set k=v]...
  wfrt validate -f def.yaml
  wfrt diagram  -f def.yaml | --run id [--format ascii|mermaid]
  wfrt version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "serve":
		code = runServe(os.Args[2:])
	case "run":
		code = runRun(os.Args[2:])
	case "validate":
		code = runValidate(os.Args[2:])
	case "diagram":
		code = runDiagram(os.Args[2:])
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		fmt.Print(usage)
	default:
		color.Red("unknown command %q", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		code = 2
	}
	os.Exit(code)
}

// fail prints err in red and returns the exit code for it.
func fail(format string, args ...any) int {
	color.New(color.FgRed).Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	return 1
}
