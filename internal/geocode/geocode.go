// Package geocode turns coordinates into postal codes.
package geocode

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNoResult is returned when the service answers without a postal code.
var ErrNoResult = errors.New("no postal code for coordinates")

// Reverser resolves a coordinate pair to a postal code.
type Reverser interface {
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// ReverserFunc adapts a function to the Reverser interface.
type ReverserFunc func(ctx context.Context, lat, lon float64) (string, error)

// Reverse calls f.
func (f ReverserFunc) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	return f(ctx, lat, lon)
}
