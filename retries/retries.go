// Package retries provides backoff generators and retry loops shared by
// supervisors and bridge transports.
package retries

import (
	"context"
	"math"
	"time"
)

// DoUntil runs fx up to total times, sleeping the duration returned by backoff
// for the attempt between runs. It returns early with the last error once
// ctx ends.
func DoUntil(ctx context.Context, fx func() error, total int, backoff func(int) time.Duration) error {
	var err error
	for attempt := 0; attempt < total; attempt++ {
		if err = fx(); err == nil {
			return nil
		}

		if attempt == total-1 {
			break
		}

		timer := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

//***************************************************************
// BackOff Generators
//***************************************************************

// RangedExponential returns a function which returns a new duration for increasing
// value of passed integer ranged within provided minimum and maximum time durations.
func RangedExponential(min, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return RangeExponentialBackOff(min, max, attempt)
	}
}

// RangeExponentialBackOff provides a back off value which will perform
// exponential back off based on the attempt number and limited
// by the provided minimum and maximum durations.
func RangeExponentialBackOff(min, max time.Duration, attemptNum int) time.Duration {
	if attemptNum < 0 {
		attemptNum = 0
	}

	mult := math.Pow(2, float64(attemptNum)) * float64(min)
	sleep := time.Duration(mult)
	if float64(sleep) != mult || sleep > max {
		sleep = max
	}
	return sleep
}
