// Command telos runs the self-improving function runtime: declare goals,
// invoke them through the solver cascade, feed ground truth, and synthesize
// deterministic implementations that displace the AI fallback.
package main

import (
	"fmt"
	"os"

	"github.com/teleologic/telos/pkg/config"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	args := os.Args[1:]

	// Global flags before the subcommand.
	for len(args) > 0 {
		switch {
		case args[0] == "--config" && len(args) > 1:
			configPath = args[1]
			args = args[2:]
		case args[0] == "--version", args[0] == "-v", args[0] == "version":
			fmt.Printf("telos %s (%s, built %s)\n", version, commit, buildDate)
			return
		case args[0] == "--help", args[0] == "-h", args[0] == "help":
			printUsage()
			return
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	err := runCommand(args[0], args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "telos: %v\n", err)
	}
	os.Exit(exitCodeForError(err))
}

func runCommand(command string, args []string) error {
	switch command {
	case "serve":
		return runServe(args)
	case "declare":
		return runDeclare(args)
	case "goals":
		return runGoals(args)
	case "invoke":
		return runInvoke(args)
	case "truth":
		return runTruth(args)
	case "synthesize":
		return runSynthesize(args)
	case "proposals":
		return runProposals(args)
	case "chain":
		return runChain(args)
	case "log":
		return runLog(args)
	default:
		printUsage()
		return withExitCode(fmt.Errorf("unknown command %q", command), 2)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func printUsage() {
	fmt.Print(`telos - self-improving typed functions

Usage:
  telos [--config path] <command> [arguments]

Commands:
  serve                       run the HTTP API and auto-synthesis watcher
  declare -f goal.yaml        declare a goal from a YAML definition
  goals                       list declared goals
  invoke <goal> <args-json>   call a goal with JSON arguments
  truth put <goal> <args-json> <expected-json>
                              record a ground-truth pair
  truth list <goal>           show the ground-truth corpus
  truth promote <goal>        review logged outputs for promotion
  synthesize <goal>           run synthesis, streaming progress
  proposals <goal>            list proposals for a goal
  proposals show <id>         show one proposal with its iterations
  chain <goal>                show the goal's ranked solver chain
  log <goal>                  show recent invocation records
  version                     print version information
`)
}
