package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	servercmd "github.com/louisbranch/tidepool/internal/cmd/server"
	"github.com/louisbranch/tidepool/internal/platform/config"
)

func main() {
	cfg, err := servercmd.ParseConfig()
	if err != nil {
		config.Exitf("parse config: %v", err)
	}
	log.SetPrefix("[TIDEPOOL] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := servercmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
