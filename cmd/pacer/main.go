package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pacer/internal/app"
)

func main() {
	var (
		cfgPath string
		input   string
		daemon  bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json or yaml")
	flag.StringVar(&input, "urls", "-", "file with \"url [priority]\" lines; - reads stdin")
	flag.BoolVar(&daemon, "daemon", false, "keep running after the url list drains (until SIGINT/SIGTERM)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	targets, err := readTargets(input)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopDrained
	rep, err := a.Run(ctx, targets)
	switch {
	case err != nil && ctx.Err() != nil:
		reason = app.StopSignal
	case err != nil:
		fmt.Println("run error:", err)
		reason = app.StopFatalError
	case daemon:
		<-ctx.Done()
		reason = app.StopSignal
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if reason == app.StopFatalError || rep.Failed > 0 {
		os.Exit(1)
	}
}

func readTargets(path string) ([]app.Target, error) {
	var r io.Reader = os.Stdin
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return app.ParseTargets(r)
}
