// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/inertial_ahrs/internal/app"
	"github.com/relabs-tech/inertial_ahrs/internal/config"
)

func main() {
	configPath := flag.String("config", "inertial_config.txt", "Path to configuration file")
	interactive := flag.Bool("i", false, "Run the guided calibration on the terminal instead of serving it over websocket")
	flag.Parse()

	log.Println("starting inertial AHRS calibration")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Println("Note: stop the fusion producer first, calibration needs the IMU to itself")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunCalibration(ctx, *interactive); err != nil {
		log.Fatalf("calibration failed: %v", err)
	}
}
