// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/inertial_ahrs/internal/calibration"
	"github.com/relabs-tech/inertial_ahrs/internal/fusion"
	"github.com/relabs-tech/inertial_ahrs/internal/imu"
	"github.com/relabs-tech/inertial_ahrs/internal/orientation"
	"github.com/relabs-tech/inertial_ahrs/internal/sensors"
)

// RunMockConsole runs the fusion pipeline on the synthetic source and
// prints the estimate next to the true attitude. No broker or hardware is
// needed.
func RunMockConsole(ctx context.Context, filter string) error {
	sel, err := orientation.ParseSelection(filter)
	if err != nil {
		return err
	}
	f, err := orientation.New(sel, orientation.DefaultOptions())
	if err != nil {
		return err
	}

	res := imu.NewResolutions(imu.Accel2G, imu.Gyro250DPS, imu.Mag16Bits)
	src := sensors.NewSyntheticSource(res, nil)
	p, err := fusion.New(src, f, calibration.NewState(r3.Vector{}), fusion.Options{
		Resolutions: res,
		Iterations:  1,
		AHRS:        true,
	})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		out, err := p.Update()
		if errors.Is(err, imu.ErrNotReady) {
			continue
		}
		if err != nil {
			return err
		}
		if i%10 != 0 {
			continue
		}
		truth := orientation.PoseFromQuaternion(src.Truth(out.Time), 0)
		fmt.Println(formatOutput(out))
		fmt.Println(formatPose("TRUE", truth))
	}
}
