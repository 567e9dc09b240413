package norflash

import "context"

// ReadNorFlash is a readable NOR flash.
type ReadNorFlash interface {
	// ReadSize returns the read alignment in bytes.
	ReadSize() uint32

	// Read fills buf with the contents starting at offset.
	Read(offset uint32, buf []byte) error

	// Capacity returns the size in bytes.
	Capacity() int
}

// NorFlash is a readable, programmable, and erasable NOR flash.
type NorFlash interface {
	ReadNorFlash

	// WriteSize returns the write alignment in bytes.
	WriteSize() uint32

	// EraseSize returns the erase unit in bytes.
	EraseSize() uint32

	// Write programs data at offset.
	Write(offset uint32, data []byte) error

	// Erase erases [from, to).
	Erase(from, to uint32) error
}

// MultiwriteNorFlash is a NorFlash that allows writing a region more than
// once between erases. Because programming only clears bits, a repeated
// write can only clear more bits, so replaying an interrupted multi-step
// write is safe.
type MultiwriteNorFlash interface {
	NorFlash

	// Multiwrite marks the device as supporting repeated writes.
	Multiwrite()
}

// AsyncReadNorFlash is the context-aware form of ReadNorFlash.
type AsyncReadNorFlash interface {
	ReadSize() uint32
	Read(ctx context.Context, offset uint32, buf []byte) error
	Capacity() int
}

// AsyncNorFlash is the context-aware form of NorFlash.
type AsyncNorFlash interface {
	AsyncReadNorFlash

	WriteSize() uint32
	EraseSize() uint32
	Write(ctx context.Context, offset uint32, data []byte) error
	Erase(ctx context.Context, from, to uint32) error
}

// AsyncMultiwriteNorFlash is the context-aware form of MultiwriteNorFlash.
type AsyncMultiwriteNorFlash interface {
	AsyncNorFlash

	Multiwrite()
}

var (
	_ MultiwriteNorFlash      = (*Flash)(nil)
	_ AsyncMultiwriteNorFlash = (*Async)(nil)
)

// Multiwrite marks Flash as a MultiwriteNorFlash.
func (f *Flash) Multiwrite() {}

// Async exposes a flash to code written against the context-aware
// interfaces. The simulated device never waits, so every call completes
// before returning and the context is not consulted.
type Async struct {
	flash *Flash
}

// Async returns the context-aware view of the flash. It shares all state
// with f.
func (f *Flash) Async() *Async {
	return &Async{flash: f}
}

// Flash returns the underlying flash.
func (a *Async) Flash() *Flash {
	return a.flash
}

// ReadSize returns the read alignment in bytes.
func (a *Async) ReadSize() uint32 {
	return a.flash.ReadSize()
}

// WriteSize returns the write alignment in bytes.
func (a *Async) WriteSize() uint32 {
	return a.flash.WriteSize()
}

// EraseSize returns the erase unit in bytes.
func (a *Async) EraseSize() uint32 {
	return a.flash.EraseSize()
}

// Capacity returns the size in bytes.
func (a *Async) Capacity() int {
	return a.flash.Capacity()
}

// Read behaves like Flash.Read.
func (a *Async) Read(_ context.Context, offset uint32, buf []byte) error {
	return a.flash.Read(offset, buf)
}

// Write behaves like Flash.Write.
func (a *Async) Write(_ context.Context, offset uint32, data []byte) error {
	return a.flash.Write(offset, data)
}

// Erase behaves like Flash.Erase.
func (a *Async) Erase(_ context.Context, from, to uint32) error {
	return a.flash.Erase(from, to)
}

// Multiwrite marks Async as an AsyncMultiwriteNorFlash.
func (a *Async) Multiwrite() {}
