package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teleologic/telos/pkg/schema"
)

// goalFile is the YAML shape accepted by declare.
type goalFile struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Inputs      []schema.Param `yaml:"inputs"`
	Output      schema.Type    `yaml:"output"`
}

func runDeclare(args []string) error {
	fs := flag.NewFlagSet("declare", flag.ContinueOnError)
	file := fs.String("f", "", "goal definition YAML file (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}
	if *file == "" {
		return withExitCode(fmt.Errorf("declare requires -f goal.yaml"), 2)
	}

	var data []byte
	var err error
	if *file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(*file)
	}
	if err != nil {
		return err
	}

	var def goalFile
	if err := yaml.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("parse goal definition: %w", err)
	}

	goal := &schema.Goal{
		Name:        def.Name,
		Description: def.Description,
		Inputs:      def.Inputs,
		Output:      def.Output,
		CreatedAt:   time.Now().UTC(),
	}
	if err := goal.Validate(); err != nil {
		return err
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.CreateGoal(goal); err != nil {
		return err
	}
	fmt.Printf("declared goal %q (%d inputs)\n", goal.Name, len(goal.Inputs))
	return nil
}

func runGoals(args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	goals, err := a.store.ListGoals()
	if err != nil {
		return err
	}
	if len(goals) == 0 {
		fmt.Println("no goals declared")
		return nil
	}

	for _, g := range goals {
		truthCount, _ := a.store.CountTruth(g.Name)
		callCount, _ := a.store.CountInvocations(g.Name)
		top, _ := a.registry.Top(g.Name)
		solver := "ai-fallback"
		if top != "" {
			solver = top
		}
		fmt.Printf("%-24s calls=%-6d truth=%-5d top=%s\n", g.Name, callCount, truthCount, solver)
	}
	return nil
}
