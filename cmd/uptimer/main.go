package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/osbits/uptimer/internal/cli"
)

var version = "dev"

func main() {
	ctx, cancel := signalContext()
	code := cli.Run(ctx, version, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			log.Println("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
