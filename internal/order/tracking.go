package order

import (
	"context"
	"fmt"

	"github.com/jaevor/go-nanoid"
)

const (
	trackingPrefix   = "ADO_"
	trackingAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	trackingLength   = 16
	trackingAttempts = 5
)

// TrackingGenerator returns a new candidate tracking number on every call.
type TrackingGenerator func() string

func NewTrackingGenerator() (TrackingGenerator, error) {
	gen, err := nanoid.CustomASCII(trackingAlphabet, trackingLength)
	if err != nil {
		return nil, fmt.Errorf("tracking number generator: %w", err)
	}
	return func() string { return trackingPrefix + gen() }, nil
}

// uniqueTrackingNumber draws candidates until one is not used by any order.
func uniqueTrackingNumber(ctx context.Context, gen TrackingGenerator, repo Repository) (string, error) {
	for i := 0; i < trackingAttempts; i++ {
		tn := gen()
		exists, err := repo.TrackingNumberExists(ctx, tn)
		if err != nil {
			return "", err
		}
		if !exists {
			return tn, nil
		}
	}
	return "", ErrTrackingExhausted
}
