package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/teleologic/telos/pkg/solver"
	"github.com/teleologic/telos/pkg/storage"
)

func runProposals(args []string) error {
	if len(args) >= 1 && args[0] == "show" {
		if len(args) < 2 {
			return withExitCode(fmt.Errorf("usage: telos proposals show <id>"), 2)
		}
		return runProposalShow(args[1])
	}
	if len(args) < 1 {
		return withExitCode(fmt.Errorf("usage: telos proposals <goal> | telos proposals show <id>"), 2)
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	proposals, err := a.store.ListProposals(args[0])
	if err != nil {
		return err
	}
	if len(proposals) == 0 {
		fmt.Println("no proposals yet")
		return nil
	}

	for _, p := range proposals {
		fmt.Printf("%s  [%s] %s  accuracy %.0f%%  %.2fms  %s\n",
			p.ID, p.Status, p.Kind, p.Accuracy*100,
			p.LatencyMS, p.CreatedAt.Format(time.RFC3339))
		fmt.Printf("    %s\n", p.Rationale)
	}
	return nil
}

func runProposalShow(id string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.store.GetProposal(id)
	if err != nil {
		return err
	}

	fmt.Printf("proposal %s (goal %s, run %s)\n", p.ID, p.GoalName, p.RunID)
	fmt.Printf("  status:     %s\n", p.Status)
	fmt.Printf("  kind:       %s\n", p.Kind)
	fmt.Printf("  confidence: %.2f\n", p.Confidence)
	fmt.Printf("  accuracy:   %.0f%%\n", p.Accuracy*100)
	fmt.Printf("  latency:    %.2fms\n", p.LatencyMS)
	if p.CostPerCall > 0 {
		fmt.Printf("  cost/call:  $%.6f\n", p.CostPerCall)
	}
	fmt.Printf("  rationale:  %s\n", p.Rationale)

	if len(p.Iterations) > 0 {
		fmt.Println("  iterations:")
		for _, it := range p.Iterations {
			line := fmt.Sprintf("    %d. %s  accuracy %.0f%%", it.Iteration, it.Outcome, it.Accuracy*100)
			if it.Error != "" {
				line += "  " + it.Error
			}
			fmt.Println(line)
		}
	}
	if p.Artifact != "" {
		fmt.Println("  artifact:")
		fmt.Println(indent(p.Artifact, "    "))
	}
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func runChain(args []string) error {
	if len(args) < 1 {
		return withExitCode(fmt.Errorf("usage: telos chain <goal>"), 2)
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.store.GetGoal(args[0]); err != nil {
		return err
	}
	entries, err := a.store.GetRegistryChain(args[0])
	if err != nil {
		return err
	}

	for _, entry := range entries {
		fmt.Printf("%d. %s  (promoted %s)\n",
			entry.Rank, entry.ProposalID, entry.PromotedAt.Format(time.RFC3339))
	}
	// The fallback never has a registry row; it is always the last resort.
	fmt.Printf("%d. %s\n", len(entries), solver.FallbackID)
	return nil
}

func runLog(args []string) error {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	limit := fs.Int("n", 50, "maximum records to show")
	finalOnly := fs.Bool("final", false, "only show terminal attempts")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}
	if fs.NArg() < 1 {
		return withExitCode(fmt.Errorf("usage: telos log [-n limit] [-final] <goal>"), 2)
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.store.QueryInvocations(fs.Arg(0), storage.InvocationFilter{
		FinalOnly: *finalOnly,
		Limit:     *limit,
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no invocations recorded")
		return nil
	}

	for _, rec := range records {
		status := "ok"
		if !rec.Success {
			status = "failed"
		}
		line := fmt.Sprintf("%s  %s  %s rank=%d  %.2fms  %s",
			rec.CreatedAt.Format(time.RFC3339), status, rec.SolverID,
			rec.AttemptRank, rec.LatencyMS, rec.ArgsJSON)
		if rec.Final {
			line += "  [final]"
		}
		if rec.Error != "" {
			line += "  " + rec.Error
		}
		fmt.Println(line)
	}
	return nil
}
