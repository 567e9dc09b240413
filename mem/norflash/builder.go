package norflash

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/sarchlab/norflashsim/hooking"
)

// Geometry is the access granularity of a flash device.
type Geometry struct {
	ReadSize  uint32
	WriteSize uint32
	EraseSize uint32
}

// Common geometries.
var (
	// GeometryR1W1E4K reads and writes single bytes and erases 4 KiB pages.
	GeometryR1W1E4K = Geometry{ReadSize: 1, WriteSize: 1, EraseSize: 4096}
	// GeometryR1W4E4K reads single bytes, writes words, and erases 4 KiB
	// pages. This is common for NOR flashes.
	GeometryR1W4E4K = Geometry{ReadSize: 1, WriteSize: 4, EraseSize: 4096}
	// GeometryR4W4E4K reads and writes words and erases 4 KiB pages.
	GeometryR4W4E4K = Geometry{ReadSize: 4, WriteSize: 4, EraseSize: 4096}
)

// A Builder can build flash devices.
type Builder struct {
	capacity        int
	geometry        Geometry
	safeEraseCycles uint32
	faultPeriod     uint32
	seed            *uint64
	logLevel        LogLevel
	hooks           []hooking.Hook
}

// MakeBuilder returns a Builder with the default parameters: a 1 MiB device
// with 1-byte reads and writes, 4 KiB pages, no wear-out faults, and no
// payload logging.
func MakeBuilder() Builder {
	return Builder{
		capacity:        1 << 20,
		geometry:        GeometryR1W1E4K,
		safeEraseCycles: Unbounded,
		faultPeriod:     Unbounded,
		logLevel:        LogLevelNone,
	}
}

// WithCapacity sets the size of the flash in bytes. It must be a multiple
// of the erase size.
func (b Builder) WithCapacity(capacity int) Builder {
	b.capacity = capacity
	return b
}

// WithGeometry sets the read, write, and erase sizes at once.
func (b Builder) WithGeometry(g Geometry) Builder {
	b.geometry = g
	return b
}

// WithReadSize sets the read alignment.
func (b Builder) WithReadSize(n uint32) Builder {
	b.geometry.ReadSize = n
	return b
}

// WithWriteSize sets the write alignment.
func (b Builder) WithWriteSize(n uint32) Builder {
	b.geometry.WriteSize = n
	return b
}

// WithEraseSize sets the size of an erase unit, which is also the unit of
// wear tracking.
func (b Builder) WithEraseSize(n uint32) Builder {
	b.geometry.EraseSize = n
	return b
}

// WithSafeEraseCycles sets the number of erases a page survives without
// faults.
func (b Builder) WithSafeEraseCycles(cycles uint32) Builder {
	b.safeEraseCycles = cycles
	return b
}

// WithFaultPeriod sets how often a page gets a new stuck bit once it is past
// the safe erase cycles. A period of 100 injects one fault every 100 erases.
func (b Builder) WithFaultPeriod(erases uint32) Builder {
	b.faultPeriod = erases
	return b
}

// WithSeed makes fault injection reproducible.
func (b Builder) WithSeed(seed uint64) Builder {
	b.seed = &seed
	return b
}

// WithLogLevel sets the initial transaction log level.
func (b Builder) WithLogLevel(level LogLevel) Builder {
	b.logLevel = level
	return b
}

// WithHook registers a hook on every flash built.
func (b Builder) WithHook(hook hooking.Hook) Builder {
	hooks := make([]hooking.Hook, len(b.hooks), len(b.hooks)+1)
	copy(hooks, b.hooks)
	b.hooks = append(hooks, hook)

	return b
}

// Build creates an erased flash.
func (b Builder) Build(name string) *Flash {
	b.mustBeValid()

	pageCount := b.capacity / int(b.geometry.EraseSize)

	f := &Flash{
		name:       name,
		readSize:   b.geometry.ReadSize,
		writeSize:  b.geometry.WriteSize,
		eraseSize:  b.geometry.EraseSize,
		data:       make([]byte, b.capacity),
		stuckAt1:   make([]byte, b.capacity),
		stuckAt0:   make([]byte, b.capacity),
		pageCycles: make([]uint32, pageCount),
		logLevel:   b.logLevel,
		faults: newFaultModel(
			b.seed,
			b.safeEraseCycles,
			b.faultPeriod,
			b.geometry.EraseSize,
		),
	}

	fill(f.data, 0xff)

	for _, h := range b.hooks {
		f.AcceptHook(h)
	}

	return f
}

// Validate reports the first problem that would make Build panic.
func (b Builder) Validate() error {
	g := b.geometry
	if g.ReadSize == 0 || g.WriteSize == 0 || g.EraseSize == 0 {
		return fmt.Errorf(
			"read, write, and erase sizes must be positive, got %+v", g)
	}

	if b.capacity < 0 || b.capacity%int(g.EraseSize) != 0 {
		return fmt.Errorf("capacity %d is not a multiple of the erase size %d",
			b.capacity, g.EraseSize)
	}

	if uint64(b.capacity) > math.MaxUint32 {
		return fmt.Errorf("capacity %d does not fit in a 32-bit address space",
			b.capacity)
	}

	if b.faultPeriod == 0 {
		return errors.New("fault period must be positive")
	}

	return nil
}

func (b Builder) mustBeValid() {
	if err := b.Validate(); err != nil {
		log.Panic(err)
	}
}
