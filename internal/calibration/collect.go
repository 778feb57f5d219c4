package calibration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relabs-tech/inertial_ahrs/internal/imu"
)

var sleep = time.Sleep

// Progress is called after each collected sample with the count so far.
type Progress func(done, total int)

// Collect reads n samples from src, waiting interval between reads.
// Not-ready reads are retried and do not count.
func Collect(ctx context.Context, src imu.RawReader, n int, interval time.Duration, progress Progress) ([]imu.IMURaw, error) {
	if n <= 0 {
		return nil, ErrEmptyBatch
	}
	batch := make([]imu.IMURaw, 0, n)
	for len(batch) < n {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		s, err := src.ReadRaw()
		switch {
		case errors.Is(err, imu.ErrNotReady):
			sleep(interval / 4)
			continue
		case err != nil:
			return batch, fmt.Errorf("collect sample %d/%d: %w", len(batch)+1, n, err)
		}
		batch = append(batch, s)
		if progress != nil {
			progress(len(batch), n)
		}
		sleep(interval)
	}
	return batch, nil
}
