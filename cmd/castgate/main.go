package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	castgatecmd "github.com/louisbranch/castgate/internal/cmd/castgate"
)

func main() {
	cfg, err := castgatecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	log.SetPrefix("[CASTGATE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := castgatecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
