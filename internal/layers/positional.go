package layers

import (
	"fmt"
	"math"

	"github.com/jellydator/ttlcache/v3"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Sinusoidal encoding tables are deterministic in (maxLen, dim), so they are
// computed once and shared across every model in the process.
var encodingTables = ttlcache.New[string, *tensor.Dense]()

// SinusoidalEncoding produces the fixed transformer position signal
//
//	PE[pos, 2i]   = sin(pos / 10000^(2i/dim))
//	PE[pos, 2i+1] = cos(pos / 10000^(2i/dim))
//
// precomputed up to MaxLen positions.
type SinusoidalEncoding struct {
	// MaxLen is the longest encodable position.
	MaxLen int
	// Dim is the encoding width.
	Dim int

	table *tensor.Dense
}

// NewSinusoidalEncoding builds (or fetches from the process-wide cache) the
// encoding table for up to maxLen positions of width dim.
func NewSinusoidalEncoding(maxLen, dim int) *SinusoidalEncoding {
	if maxLen <= 0 || dim <= 0 {
		panic(fmt.Sprintf("layers: sinusoidal encoding needs positive sizes, got maxLen=%d dim=%d", maxLen, dim))
	}
	key := fmt.Sprintf("%d:%d", maxLen, dim)
	if item := encodingTables.Get(key); item != nil {
		return &SinusoidalEncoding{MaxLen: maxLen, Dim: dim, table: item.Value()}
	}

	data := make([]float32, maxLen*dim)
	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < dim; i++ {
			angle := float64(pos) / math.Pow(10000, float64(2*(i/2))/float64(dim))
			if i%2 == 0 {
				data[pos*dim+i] = float32(math.Sin(angle))
			} else {
				data[pos*dim+i] = float32(math.Cos(angle))
			}
		}
	}
	table := tensor.New(tensor.WithShape(maxLen, dim), tensor.WithBacking(data))
	encodingTables.Set(key, table, ttlcache.NoTTL)
	return &SinusoidalEncoding{MaxLen: maxLen, Dim: dim, table: table}
}

// Forward returns the first seqLen rows of the table as a [seqLen, dim]
// constant node.
func (s *SinusoidalEncoding) Forward(ctx Context, seqLen int) (*gorgonia.Node, error) {
	rows, err := s.Rows(seqLen)
	if err != nil {
		return nil, err
	}
	return fromDense(ctx.Graph, rows), nil
}

// Rows returns a copy of the first seqLen rows as a host tensor.
func (s *SinusoidalEncoding) Rows(seqLen int) (*tensor.Dense, error) {
	if seqLen <= 0 {
		return nil, fmt.Errorf("layers: positional encoding length must be positive, got %d", seqLen)
	}
	if seqLen > s.MaxLen {
		return nil, fmt.Errorf("layers: positional encoding length %d exceeds table size %d", seqLen, s.MaxLen)
	}
	data := make([]float32, seqLen*s.Dim)
	copy(data, s.table.Data().([]float32)[:seqLen*s.Dim])
	return tensor.New(tensor.WithShape(seqLen, s.Dim), tensor.WithBacking(data)), nil
}

// At returns the encoding of a single position as a host slice.
func (s *SinusoidalEncoding) At(pos int) ([]float32, error) {
	if pos < 0 || pos >= s.MaxLen {
		return nil, fmt.Errorf("layers: position %d out of range [0, %d)", pos, s.MaxLen)
	}
	out := make([]float32, s.Dim)
	copy(out, s.table.Data().([]float32)[pos*s.Dim:(pos+1)*s.Dim])
	return out, nil
}
