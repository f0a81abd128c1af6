package domain

import (
	"context"
	"fmt"
	"sync/atomic"
)

// OrderNumberGenerator hands out human-readable order numbers that are unique per order.
type OrderNumberGenerator interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// FormatOrderNumber renders prefix followed by n zero-padded to width digits.
func FormatOrderNumber(prefix string, width int, n int64) string {
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}

// SequenceGenerator is an in-process monotonic OrderNumberGenerator.
type SequenceGenerator struct {
	prefix string
	width  int
	next   atomic.Int64
}

func NewSequenceGenerator(prefix string, width int, start int64) *SequenceGenerator {
	g := &SequenceGenerator{prefix: prefix, width: width}
	g.next.Store(start)
	return g
}

func (g *SequenceGenerator) NextOrderNumber(_ context.Context) (string, error) {
	n := g.next.Add(1) - 1
	return FormatOrderNumber(g.prefix, g.width, n), nil
}
