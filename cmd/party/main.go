// Package main starts the party session hub and handles termination.
//
// The process is a transport adapter around the action/response queues so the
// host game loop remains the owner of gameplay state.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	partycmd "github.com/wrenfield/partymode/internal/cmd/party"
)

func main() {
	cfg, err := partycmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[PARTY] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := partycmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
