package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"squad-clash/core/internal/app"
)

func main() {
	var configDir string
	flag.StringVar(&configDir, "config", ".", "directory containing squadclash.json")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, configDir); err != nil {
		log.Fatalf("%v", err)
	}
}
