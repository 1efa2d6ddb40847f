package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/teleologic/telos/pkg/schema"
	"github.com/teleologic/telos/pkg/truth"
)

func runTruth(args []string) error {
	if len(args) == 0 {
		return withExitCode(fmt.Errorf("usage: telos truth <put|list|promote> ..."), 2)
	}

	switch args[0] {
	case "put":
		return runTruthPut(args[1:])
	case "list":
		return runTruthList(args[1:])
	case "promote":
		return runTruthPromote(args[1:])
	default:
		return withExitCode(fmt.Errorf("unknown truth subcommand %q", args[0]), 2)
	}
}

func runTruthPut(args []string) error {
	if len(args) < 3 {
		return withExitCode(fmt.Errorf("usage: telos truth put <goal> <args-json> <expected-json>"), 2)
	}
	goalName := args[0]

	var callArgs map[string]any
	if err := json.Unmarshal([]byte(args[1]), &callArgs); err != nil {
		return withExitCode(fmt.Errorf("arguments must be a JSON object: %w", err), 2)
	}
	var expected any
	if err := json.Unmarshal([]byte(args[2]), &expected); err != nil {
		return withExitCode(fmt.Errorf("expected output must be JSON: %w", err), 2)
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entry, err := a.truth.Put(goalName, callArgs, expected)
	if err != nil {
		return err
	}
	fmt.Printf("recorded truth for %s (key %s)\n", goalName, entry.InputKey[:12])
	return nil
}

func runTruthList(args []string) error {
	if len(args) < 1 {
		return withExitCode(fmt.Errorf("usage: telos truth list <goal>"), 2)
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.truth.GetAll(args[0])
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no ground truth recorded")
		return nil
	}

	for _, entry := range entries {
		fmt.Printf("[%s] %s -> %s\n", entry.Source, entry.ArgsJSON, entry.ExpectedJSON)
	}
	fmt.Printf("%d entries\n", len(entries))
	return nil
}

// runTruthPromote reviews logged outputs interactively: each unvalidated
// final success record is shown and approved or rejected from the terminal.
func runTruthPromote(args []string) error {
	if len(args) < 1 {
		return withExitCode(fmt.Errorf("usage: telos truth promote <goal>"), 2)
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	reader := bufio.NewReader(os.Stdin)
	validator := truth.ValidatorFunc(func(goal *schema.Goal, callArgs map[string]any, output any) (truth.Verdict, error) {
		fmt.Printf("\n%s\n  args:   %s\n  output: %s\napprove as ground truth? [y/N] ",
			goal.Name, schema.CanonicalJSON(callArgs), schema.CanonicalJSON(output))

		line, err := reader.ReadString('\n')
		if err != nil {
			return truth.VerdictReject, err
		}
		if answer := strings.ToLower(strings.TrimSpace(line)); answer == "y" || answer == "yes" {
			return truth.VerdictApprove, nil
		}
		return truth.VerdictReject, nil
	})

	report, err := a.truth.PromoteFromLog(args[0], validator, 0)
	if err != nil {
		return err
	}
	fmt.Printf("\nreviewed %d, promoted %d, rejected %d, skipped %d\n",
		report.Reviewed, report.Promoted, report.Rejected, report.Skipped)
	return nil
}
