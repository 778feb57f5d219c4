// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
)

// Register is one AK8963 register as last read.
type Register struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Value       string `json:"value"`
}

type registerInfo struct {
	addr        byte
	name        string
	description string
}

// Control and status registers that can be read without disturbing the
// measurement cycle. The data registers and ST2 are left out since
// reading ST2 releases the current sample.
var ak8963Registers = []registerInfo{
	{regWIA, "WIA", "Device ID, 0x48"},
	{0x01, "INFO", "Device information"},
	{regST1, "ST1", "bit0 DRDY, bit1 DOR"},
	{regCNTL1, "CNTL1", "bits 3:0 MODE, bit4 16-bit output"},
	{0x0B, "CNTL2", "bit0 soft reset"},
	{0x0C, "ASTC", "bit6 self-test field"},
}

var asaNames = [3]string{"ASAX", "ASAY", "ASAZ"}

// Registers reads the control and status registers. The fuse ROM
// adjustment is only readable in fuse ROM mode, so the values cached at
// init are reported for ASAX..ASAZ.
func (m *AK8963) Registers() ([]Register, error) {
	out := make([]Register, 0, len(ak8963Registers)+len(asaNames))
	for _, r := range ak8963Registers {
		v, err := m.dev.ReadRegU8(r.addr)
		if err != nil {
			return out, fmt.Errorf("ak8963: read %s failed: %w", r.name, err)
		}
		out = append(out, Register{
			Address:     fmt.Sprintf("0x%02X", r.addr),
			Name:        r.name,
			Description: r.description,
			Value:       fmt.Sprintf("0x%02X", v),
		})
	}
	for i, name := range asaNames {
		out = append(out, Register{
			Address:     fmt.Sprintf("0x%02X", regASAX+i),
			Name:        name,
			Description: "Sensitivity adjustment, read at init",
			Value:       fmt.Sprintf("0x%02X", m.asa[i]),
		})
	}
	return out, nil
}

// ErrNoMagnetometer is returned when the source runs without an AK8963.
var ErrNoMagnetometer = errors.New("magnetometer not available")

// MagRegisters dumps the magnetometer registers.
func (s *MPU9250Source) MagRegisters() ([]Register, error) {
	if s.mag == nil {
		return nil, ErrNoMagnetometer
	}
	return s.mag.Registers()
}
