package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teleologic/telos/pkg/bus"
)

func runSynthesize(args []string) error {
	if len(args) < 1 {
		return withExitCode(fmt.Errorf("usage: telos synthesize <goal>"), 2)
	}
	goalName := args[0]

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stream progress to the terminal while the run executes.
	sub, err := a.bus.Subscribe(ctx, bus.SynthesisSubject(goalName), func(msg *bus.Message) {
		var event bus.ProgressEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		printProgress(event)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	result, err := a.orch.Synthesize(ctx, goalName)
	if err != nil {
		return err
	}

	fmt.Printf("\nrun %s finished in %s: %d proposals\n",
		result.RunID, result.Duration.Round(time.Millisecond), len(result.Proposals))
	if result.Winner == nil {
		fmt.Println("no accepted proposals; registry unchanged")
		return nil
	}

	fmt.Printf("winner %s: accuracy %.0f%%, latency %.2fms\n",
		result.Winner.ID, result.Winner.Accuracy*100, result.Winner.LatencyMS)
	if result.Promoted {
		if result.Speedup > 1 {
			fmt.Printf("promoted (%.1fx faster than previous best)\n", result.Speedup)
		} else {
			fmt.Println("promoted")
		}
	} else {
		fmt.Println("did not beat the incumbent; registry unchanged")
	}
	return nil
}

func printProgress(event bus.ProgressEvent) {
	switch event.Stage {
	case bus.StageStarted:
		fmt.Printf("synthesizing %s ...\n", event.Goal)
	case bus.StageProposal:
		fmt.Printf("  proposal %s (confidence %.2f): %s\n",
			shortID(event.ProposalID), event.Confidence, event.Rationale)
	case bus.StageIteration:
		line := fmt.Sprintf("    iteration %d: accuracy %.0f%%", event.Iteration, event.Accuracy*100)
		if event.Error != "" {
			line += " (" + event.Error + ")"
		}
		fmt.Println(line)
	case bus.StageBenchmark:
		fmt.Printf("    benchmark: %.2fms median\n", event.LatencyMS)
	case bus.StageWinner:
		fmt.Printf("  winner %s: %s\n", shortID(event.ProposalID), event.Message)
	case bus.StageNoWinner:
		fmt.Printf("  %s\n", event.Message)
	case bus.StageFailed:
		fmt.Printf("  run failed: %s\n", event.Error)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
