// Package idgen generates identifiers for recorded flash activity.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// Generator produces unique identifiers.
type Generator interface {
	// Generate an ID
	Generate() string
}

// NewSequential returns a generator whose first emitted ID is "1". IDs are
// deterministic, so recordings of seeded runs can be diffed.
func NewSequential() Generator {
	return &sequentialGenerator{}
}

// NewParallel returns a generator backed by xid. IDs are globally unique
// across processes but not deterministic.
func NewParallel() Generator {
	return parallelGenerator{}
}

type sequentialGenerator struct {
	next uint64
}

func (g *sequentialGenerator) Generate() string {
	return strconv.FormatUint(atomic.AddUint64(&g.next, 1), 10)
}

type parallelGenerator struct{}

func (parallelGenerator) Generate() string {
	return xid.New().String()
}
