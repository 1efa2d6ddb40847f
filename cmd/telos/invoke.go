package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

func runInvoke(args []string) error {
	if len(args) < 2 {
		return withExitCode(fmt.Errorf("usage: telos invoke <goal> <args-json>"), 2)
	}
	goalName, rawArgs := args[0], args[1]

	var callArgs map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &callArgs); err != nil {
		return withExitCode(fmt.Errorf("arguments must be a JSON object: %w", err), 2)
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	output, err := a.router.Invoke(context.Background(), goalName, callArgs)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
