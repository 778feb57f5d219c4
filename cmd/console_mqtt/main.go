package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/relabs-tech/inertial_ahrs/internal/app"
	"github.com/relabs-tech/inertial_ahrs/internal/config"
)

func main() {
	configPath := flag.String("config", "inertial_config.txt", "Path to configuration file")
	flag.Parse()

	log.Println("starting inertial AHRS console (MQTT subscriber)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.RunConsoleMQTT(ctx); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
