package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teleologic/telos/pkg/server"
	"github.com/teleologic/telos/pkg/synth"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "", "listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	listenAddr := a.cfg.Server.Addr
	if *addr != "" {
		listenAddr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := synth.NewWatcher(a.store, a.orch, a.bus, a.logger, a.cfg.Synthesis.TriggerThreshold)
	watcher.Start(ctx)

	srv := server.New(server.Config{
		Addr:    listenAddr,
		Store:   a.store,
		Router:  a.router,
		Truth:   a.truth,
		Synth:   a.orch,
		Tracker: a.tracker,
		Bus:     a.bus,
		Logger:  a.logger,
	})

	fmt.Printf("telos listening on %s\n", listenAddr)
	return srv.Start(ctx)
}
