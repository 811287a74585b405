// Package embedding produces the D=384 observation vectors the graph
// store's vector indexes key fuzzy Fingerprint/Finding matches on.
package embedding

import (
	"context"
)

// Dimension is the fixed embedding width spec §4.2/§6 mandates for the
// graph store's vector indexes.
const Dimension = 384

// Provider embeds text into a fixed-dimension vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
