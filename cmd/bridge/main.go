// Package main starts the tablelink bridge.
//
// The bridge runs beside a virtual-tabletop host application and keeps it in
// sync with the tablelink orchestrator: session lifecycle, encounter state
// transmission, and execution of orchestrator-issued commands.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	bridgecmd "github.com/tablelink/bridge/internal/cmd/bridge"
)

func main() {
	cfg, err := bridgecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[BRIDGE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bridgecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to run bridge: %v", err)
	}
}
