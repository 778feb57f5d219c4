package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/relabs-tech/inertial_ahrs/internal/app"
)

// Runs the fusion filters on the synthetic source without a broker.
func main() {
	filter := flag.String("filter", "madgwick", "Orientation filter: passthrough, madgwick or mahony")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.RunMockConsole(ctx, *filter); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
