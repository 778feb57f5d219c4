package app

import (
	"bufio"
	"context"
	"fmt"
	"math"

	"github.com/edaniels/golog"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/inertial_ahrs/internal/gps"
)

// trackDeclination reads NMEA from the GPS serial port and calls update
// whenever a valid RMC fix reports a new magnetic variation. It returns
// when ctx is done or the port fails.
func trackDeclination(ctx context.Context, port string, baud int, logger golog.Logger, update func(deg float64, fix gps.Fix)) error {
	serialOpts := serial.OpenOptions{
		PortName:              port,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	rw, err := serial.Open(serialOpts)
	if err != nil {
		return fmt.Errorf("GPS serial %s: %w", port, err)
	}
	logger.Infof("GPS serial port opened on %s at %d baud", port, baud)

	go func() {
		<-ctx.Done()
		rw.Close()
	}()

	last := math.NaN()
	scanner := bufio.NewScanner(rw)
	for scanner.Scan() {
		fix, ok := gps.ParseLine(scanner.Text())
		if !ok {
			continue
		}
		deg, ok := fix.Declination()
		if !ok || math.Abs(deg-last) < 0.01 {
			continue
		}
		last = deg
		logger.Infof("GPS: magnetic declination %.2f° at %.5f,%.5f", deg, fix.Latitude, fix.Longitude)
		update(deg, fix)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("GPS read: %w", err)
	}
	return nil
}
