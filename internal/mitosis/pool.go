package mitosis

import "sync"

// emergencyGeneration marks a Stem cell conjured on the spot because the
// pool was empty at handoff time (spec §4.6).
const emergencyGeneration = 999

// StemPool holds pre-activated Stem cells ready to receive a handoff.
// It is replenished by one fresh cell every time it yields one, keeping
// exactly one spare ready under steady-state handoff load.
type StemPool struct {
	mu    sync.Mutex
	cells []*Cell
	newID func() string
}

// NewStemPool returns an empty pool; newID mints a fresh cell id when the
// pool must replenish or conjure an emergency cell.
func NewStemPool(newID func() string) *StemPool {
	return &StemPool{newID: newID}
}

// Seed adds n freshly-built Stem cells of the given generation.
func (p *StemPool) Seed(n, generation int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		p.cells = append(p.cells, NewCell(p.newID(), generation))
	}
}

// Take removes and returns one Stem cell, or an emergency cell with
// generation 999 if the pool is empty (spec §4.6).
func (p *StemPool) Take() (*Cell, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cells) == 0 {
		return NewCell(p.newID(), emergencyGeneration), false
	}
	c := p.cells[0]
	p.cells = p.cells[1:]
	return c, true
}

// Replenish adds one fresh Stem cell of the given generation, called
// after every Take to keep the pool non-empty under steady handoff load
// (spec §4.6: "replenished with a fresh Stem cell whose generation is
// child+1").
func (p *StemPool) Replenish(generation int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cells = append(p.cells, NewCell(p.newID(), generation))
}

// Len reports the pool's current size.
func (p *StemPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cells)
}
