// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqttsn

import (
	"context"
	"time"
)

const (
	RetryShortDelay = 3 * time.Second   // the delay for the first nine failures of a stage
	RetryLongDelay  = 60 * time.Second  // the delay for failures ten to nineteen
	RetryMaxDelay   = 600 * time.Second // the delay for every failure after that
)

// RetryTimeout returns the delay to wait after the given consecutive failure
// of a stage. Attempts count from 1.
func RetryTimeout(attempt int) time.Duration {
	switch {
	case attempt < 10:
		return RetryShortDelay
	case attempt < 20:
		return RetryLongDelay
	default:
		return RetryMaxDelay
	}
}

// sleepContext waits for d, returning early with the context error if ctx is
// done first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
