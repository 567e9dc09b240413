// Package timing estimates how long a sequence of flash accesses would take on
// a serial NOR flash bus.
//
// The model is closed-form: every byte costs a fixed transfer time derived
// from the bus width and clock, every access pays a fixed command overhead,
// and every erased page costs a fixed erase duration. Read and write
// estimates are computed in nanoseconds; erase and total estimates are
// reported with millisecond granularity because erase time dominates.
package timing

import (
	"fmt"
	"time"
)

// Counters are the accumulated access statistics of a flash device. The
// flash engine and its snapshots both produce Counters, so one Timings value
// can be applied to either.
type Counters struct {
	BytesRead     uint64 `json:"bytes_read"`
	ReadAccesses  uint64 `json:"read_accesses"`
	BytesWritten  uint64 `json:"bytes_written"`
	WriteAccesses uint64 `json:"write_accesses"`
	PagesErased   uint64 `json:"pages_erased"`
	EraseAccesses uint64 `json:"erase_accesses"`
}

// TotalAccesses returns the number of read, write, and erase calls.
func (c Counters) TotalAccesses() uint64 {
	return c.ReadAccesses + c.WriteAccesses + c.EraseAccesses
}

// Sub returns the counters accumulated between before and c.
func (c Counters) Sub(before Counters) Counters {
	return Counters{
		BytesRead:     c.BytesRead - before.BytesRead,
		ReadAccesses:  c.ReadAccesses - before.ReadAccesses,
		BytesWritten:  c.BytesWritten - before.BytesWritten,
		WriteAccesses: c.WriteAccesses - before.WriteAccesses,
		PagesErased:   c.PagesErased - before.PagesErased,
		EraseAccesses: c.EraseAccesses - before.EraseAccesses,
	}
}

// Timings is an immutable set of bus and device timing parameters.
type Timings struct {
	readTimePerByte     time.Duration
	writeTimePerByte    time.Duration
	pageEraseTime       time.Duration
	readAccessOverhead  time.Duration
	writeAccessOverhead time.Duration
	eraseAccessOverhead time.Duration
}

// New creates timing parameters from the bus configuration and the device
// properties.
//
//   - width: number of active data lanes.
//   - freq: I/O clock of the bus.
//   - pageEraseTime: typical duration of a single sector erase, kept at
//     millisecond granularity.
//   - accessOverheadCycles: extra bus cycles per access (command, address,
//     dummy cycles).
func New(
	width BusWidth,
	freq Freq,
	pageEraseTime time.Duration,
	accessOverheadCycles uint32,
) Timings {
	width.mustBeValid()

	bytesPerSecond := freq / Freq(8/uint32(width))
	timePerByte := bytesPerSecond.Period()
	overhead := freq.NCycles(uint64(accessOverheadCycles))

	return Timings{
		readTimePerByte:     timePerByte,
		writeTimePerByte:    timePerByte,
		pageEraseTime:       pageEraseTime.Truncate(time.Millisecond),
		readAccessOverhead:  overhead,
		writeAccessOverhead: overhead,
		eraseAccessOverhead: overhead,
	}
}

// ReadTimePerByte returns the transfer time of one byte.
func (t Timings) ReadTimePerByte() time.Duration {
	return t.readTimePerByte
}

// AccessOverhead returns the fixed cost of a single access.
func (t Timings) AccessOverhead() time.Duration {
	return t.readAccessOverhead
}

// PageEraseTime returns the duration of erasing one page.
func (t Timings) PageEraseTime() time.Duration {
	return t.pageEraseTime
}

// ReadTime estimates reading totalBytes over the given number of accesses.
func (t Timings) ReadTime(totalBytes, accesses uint64) time.Duration {
	return t.readTimePerByte*time.Duration(totalBytes) +
		t.readAccessOverhead*time.Duration(accesses)
}

// WriteTime estimates programming totalBytes over the given number of
// accesses.
func (t Timings) WriteTime(totalBytes, accesses uint64) time.Duration {
	return t.writeTimePerByte*time.Duration(totalBytes) +
		t.writeAccessOverhead*time.Duration(accesses)
}

// EraseTime estimates erasing the given number of pages over the given
// number of erase commands. The result has millisecond granularity.
func (t Timings) EraseTime(pages, accesses uint64) time.Duration {
	overhead := (t.eraseAccessOverhead * time.Duration(accesses)).
		Truncate(time.Millisecond)

	return t.pageEraseTime*time.Duration(pages) + overhead
}

// TotalTime combines the read, write, and erase estimates. Each component is
// truncated to milliseconds before summation.
func (t Timings) TotalTime(c Counters) time.Duration {
	read := t.ReadTime(c.BytesRead, c.ReadAccesses).Truncate(time.Millisecond)
	write := t.WriteTime(c.BytesWritten, c.WriteAccesses).
		Truncate(time.Millisecond)
	erase := t.EraseTime(c.PagesErased, c.EraseAccesses)

	return read + write + erase
}

// Breakdown is the per-kind estimate of a set of counters.
type Breakdown struct {
	Read  time.Duration `json:"read_ns"`
	Write time.Duration `json:"write_ns"`
	Erase time.Duration `json:"erase_ns"`
	Total time.Duration `json:"total_ns"`
}

// Estimate returns all the estimates of the counters at once.
func (t Timings) Estimate(c Counters) Breakdown {
	return Breakdown{
		Read:  t.ReadTime(c.BytesRead, c.ReadAccesses),
		Write: t.WriteTime(c.BytesWritten, c.WriteAccesses),
		Erase: t.EraseTime(c.PagesErased, c.EraseAccesses),
		Total: t.TotalTime(c),
	}
}

func (t Timings) String() string {
	return fmt.Sprintf(
		"%v/byte, %v/access, %v/page erase",
		t.readTimePerByte, t.readAccessOverhead, t.pageEraseTime)
}
