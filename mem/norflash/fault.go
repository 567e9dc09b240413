package norflash

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Unbounded disables wear-out faults when used as the safe erase cycle count
// or the fault period.
const Unbounded = math.MaxUint32

// FaultKind tells which value a stuck bit is forced to.
type FaultKind int

// Fault kinds.
const (
	StuckAt0 FaultKind = iota
	StuckAt1
)

func (k FaultKind) String() string {
	if k == StuckAt1 {
		return "stuck-at-1"
	}

	return "stuck-at-0"
}

// A Fault is a single stuck bit injected by an erase.
type Fault struct {
	Kind FaultKind

	// Page is the index of the erase unit the fault lives in.
	Page int

	// Offset is the device address of the affected byte.
	Offset uint32

	// Bit is the affected bit position, 0 being the least significant.
	Bit uint8

	// Cycle is the erase count of the page when the fault was injected.
	Cycle uint32
}

func (f Fault) String() string {
	return fmt.Sprintf("%s at 0x%x bit %d (page %d, cycle %d)",
		f.Kind, f.Offset, f.Bit, f.Page, f.Cycle)
}

// faultModel decides when an erased page wears out and where the new stuck
// bit goes. Given the same seed, parameters, and erase sequence, it produces
// the same faults.
type faultModel struct {
	rng             *rand.Rand
	safeEraseCycles uint32
	faultPeriod     uint32
	eraseSize       uint32
}

func newFaultModel(
	seed *uint64,
	safeEraseCycles, faultPeriod, eraseSize uint32,
) *faultModel {
	m := &faultModel{
		safeEraseCycles: safeEraseCycles,
		faultPeriod:     faultPeriod,
		eraseSize:       eraseSize,
	}

	if seed != nil {
		m.rng = rand.New(rand.NewPCG(*seed, *seed))
	} else {
		m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return m
}

// shouldFail reports whether a page that just reached cycle erases gets a
// new stuck bit.
func (m *faultModel) shouldFail(cycle uint32) bool {
	if cycle <= m.safeEraseCycles {
		return false
	}

	return (cycle-m.safeEraseCycles)%m.faultPeriod == 0
}

// draw picks the location and kind of a new fault in the given page.
func (m *faultModel) draw(page int, cycle uint32) Fault {
	inPage := m.rng.Uint32N(m.eraseSize)

	kind := StuckAt0
	if m.rng.IntN(2) == 1 {
		kind = StuckAt1
	}

	bit := uint8(m.rng.UintN(8))

	return Fault{
		Kind:   kind,
		Page:   page,
		Offset: uint32(page)*m.eraseSize + inPage,
		Bit:    bit,
		Cycle:  cycle,
	}
}
