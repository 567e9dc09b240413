// Package norflash provides an in-memory behavioral model of a NOR flash
// device.
//
// The model enforces the access rules of real NOR flash: reads and programs
// must be aligned to the read and write sizes, and erases work on whole
// erase units (pages). Programming can only clear bits, erasing sets every
// bit of a page back to 1. Each erase counts against the wear budget of its
// page, and once a page exceeds its safe erase cycles the model starts
// injecting stuck bits that corrupt later reads.
//
// A Flash is not safe for concurrent use. Run it on one goroutine and hand
// Snapshots to other goroutines.
package norflash

import (
	"fmt"
	"log"
	"math/bits"
	"time"

	"github.com/sarchlab/norflashsim/hooking"
	"github.com/sarchlab/norflashsim/timing"
)

// HookPosTransaction is triggered after a transaction is appended to the
// log. The hook item is the Transaction.
var HookPosTransaction = &hooking.HookPos{Name: "FlashTransaction"}

// HookPosFault is triggered after an erase injects a stuck bit. The hook
// item is the Fault.
var HookPosFault = &hooking.HookPos{Name: "FlashFault"}

// Flash is a simulated NOR flash device.
type Flash struct {
	hooking.HookableBase

	name      string
	readSize  uint32
	writeSize uint32
	eraseSize uint32

	data       []byte
	stuckAt1   []byte
	stuckAt0   []byte
	pageCycles []uint32

	bytesRead       uint64
	bytesWritten    uint64
	bytesErased     uint64
	readAccesses    uint64
	writeAccesses   uint64
	eraseAccesses   uint64
	totalOperations uint64

	logLevel         LogLevel
	transactions     []Transaction
	currentOperation fmt.Stringer

	faults *faultModel
}

// Name returns the name of the flash.
func (f *Flash) Name() string {
	return f.name
}

// ReadSize returns the read alignment in bytes.
func (f *Flash) ReadSize() uint32 {
	return f.readSize
}

// WriteSize returns the write alignment in bytes.
func (f *Flash) WriteSize() uint32 {
	return f.writeSize
}

// EraseSize returns the size of an erase unit in bytes.
func (f *Flash) EraseSize() uint32 {
	return f.eraseSize
}

// Capacity returns the size of the flash in bytes.
func (f *Flash) Capacity() int {
	return len(f.data)
}

// PageCount returns the number of erase units.
func (f *Flash) PageCount() int {
	return len(f.pageCycles)
}

// Read copies len(buf) bytes starting at offset into buf. Stuck bits are
// applied to the returned bytes. The offset and the length must be aligned
// to the read size and the range must be within the capacity.
//
// The returned error is always nil.
func (f *Flash) Read(offset uint32, buf []byte) error {
	f.mustBeAligned("read", offset, len(buf), f.readSize)
	f.mustBeInRange("read", offset, len(buf))

	start := int(offset)
	copy(buf, f.data[start:start+len(buf)])

	for i := range buf {
		buf[i] |= f.stuckAt1[start+i]
		buf[i] &^= f.stuckAt0[start+i]
	}

	f.bytesRead += uint64(len(buf))
	f.readAccesses++

	f.appendTransaction(newReadTransaction(
		f.logLevel, offset, buf, f.currentOperation))

	return nil
}

// Write programs data at offset. Programming can only clear bits, so each
// byte becomes the AND of its old value and the new value. The offset and
// the length must be aligned to the write size and the range must be within
// the capacity.
//
// Writing the same range again without an erase is allowed.
//
// The returned error is always nil.
func (f *Flash) Write(offset uint32, data []byte) error {
	f.mustBeInRange("write", offset, len(data))
	f.mustBeAligned("write", offset, len(data), f.writeSize)

	start := int(offset)
	dst := f.data[start : start+len(data)]

	for i := range dst {
		dst[i] &= data[i]
		dst[i] |= f.stuckAt1[start+i]
		dst[i] &^= f.stuckAt0[start+i]
	}

	f.bytesWritten += uint64(len(data))
	f.writeAccesses++

	f.appendTransaction(newWriteTransaction(
		f.logLevel, offset, data, dst, f.currentOperation))

	return nil
}

// Erase sets every bit in [from, to) to 1, except for bits stuck at 0. Both
// bounds must be aligned to the erase size, from must be smaller than to,
// and to must not exceed the capacity. Every erased page has its cycle
// counter incremented, which may inject a new stuck bit.
//
// The returned error is always nil.
func (f *Flash) Erase(from, to uint32) error {
	f.mustBeAligned("erase", from, 0, f.eraseSize)
	f.mustBeAligned("erase", to, 0, f.eraseSize)

	if from >= to {
		log.Panicf("%s: erase range [0x%x, 0x%x) is empty", f.name, from, to)
	}

	f.mustBeInRange("erase", from, int(to-from))

	for page := from / f.eraseSize; page < to/f.eraseSize; page++ {
		f.wearPage(int(page))
	}

	tx := newEraseTransaction(
		f.logLevel, from, to, f.data[from:to], f.currentOperation)

	erased := f.data[from:to]
	for i := range erased {
		erased[i] = 0xff &^ f.stuckAt0[int(from)+i]
	}

	f.bytesErased += uint64(to - from)
	f.eraseAccesses++

	f.appendTransaction(tx)

	return nil
}

func (f *Flash) wearPage(page int) {
	f.pageCycles[page]++
	cycle := f.pageCycles[page]

	if !f.faults.shouldFail(cycle) {
		return
	}

	fault := f.faults.draw(page, cycle)
	mask := byte(1) << fault.Bit

	if fault.Kind == StuckAt1 {
		f.stuckAt1[fault.Offset] |= mask
		f.stuckAt0[fault.Offset] &^= mask
	} else {
		f.stuckAt0[fault.Offset] |= mask
		f.stuckAt1[fault.Offset] &^= mask
	}

	f.InvokeHook(hooking.HookCtx{
		Domain: f,
		Pos:    HookPosFault,
		Item:   fault,
	})
}

func (f *Flash) appendTransaction(tx Transaction) {
	f.transactions = append(f.transactions, tx)

	if f.NumHooks() == 0 {
		return
	}

	f.InvokeHook(hooking.HookCtx{
		Domain: f,
		Pos:    HookPosTransaction,
		Item:   tx,
	})
}

func (f *Flash) mustBeAligned(
	op string,
	offset uint32,
	length int,
	alignment uint32,
) {
	if offset%alignment != 0 {
		log.Panicf("%s: %s offset 0x%x is not aligned to %d bytes",
			f.name, op, offset, alignment)
	}

	if uint32(length)%alignment != 0 {
		log.Panicf("%s: %s length %d is not a multiple of %d bytes",
			f.name, op, length, alignment)
	}
}

func (f *Flash) mustBeInRange(op string, offset uint32, length int) {
	if uint64(offset)+uint64(length) > uint64(len(f.data)) {
		log.Panicf("%s: %s [0x%x, 0x%x) is beyond the capacity 0x%x",
			f.name, op, offset, uint64(offset)+uint64(length), len(f.data))
	}
}

// SetLogLevel sets the log level for subsequent transactions.
func (f *Flash) SetLogLevel(level LogLevel) {
	f.logLevel = level
}

// LogLevel returns the current log level.
func (f *Flash) LogLevel() LogLevel {
	return f.logLevel
}

// StartOperation tags the following transactions with the given operation,
// until another operation is started. It also counts the operation.
func (f *Flash) StartOperation(tag fmt.Stringer) {
	f.currentOperation = tag
	f.totalOperations++
}

// CurrentOperation returns the most recently started operation, or nil.
func (f *Flash) CurrentOperation() fmt.Stringer {
	return f.currentOperation
}

// Reset erases the whole device and clears statistics and injected faults.
// Erase cycles are not counted and no transaction is recorded.
func (f *Flash) Reset() {
	fill(f.data, 0xff)
	f.ResetStats()
	f.ResetFailures()
}

// ResetStats clears the counters, the transaction log, the page erase
// cycles, and the current operation. Stuck bits and data are preserved.
func (f *Flash) ResetStats() {
	f.bytesRead = 0
	f.bytesWritten = 0
	f.bytesErased = 0
	f.readAccesses = 0
	f.writeAccesses = 0
	f.eraseAccesses = 0
	f.totalOperations = 0
	f.transactions = nil
	f.currentOperation = nil
	clear(f.pageCycles)
}

// ResetFailures removes all stuck bits and clears the page erase cycles.
// Data and the transaction log are preserved.
func (f *Flash) ResetFailures() {
	clear(f.stuckAt0)
	clear(f.stuckAt1)
	clear(f.pageCycles)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// Transactions returns a copy of the transaction log.
func (f *Flash) Transactions() []Transaction {
	txs := make([]Transaction, len(f.transactions))
	copy(txs, f.transactions)

	return txs
}

// NumTransactions returns the length of the transaction log.
func (f *Flash) NumTransactions() int {
	return len(f.transactions)
}

// PageEraseCycles returns a copy of the per-page erase counters.
func (f *Flash) PageEraseCycles() []uint32 {
	cycles := make([]uint32, len(f.pageCycles))
	copy(cycles, f.pageCycles)

	return cycles
}

// StuckBits returns the number of bits currently stuck at either value.
func (f *Flash) StuckBits() int {
	n := 0
	for i := range f.stuckAt0 {
		n += bits.OnesCount8(f.stuckAt0[i]) + bits.OnesCount8(f.stuckAt1[i])
	}

	return n
}

// BytesRead returns the number of bytes read since the last stats reset.
func (f *Flash) BytesRead() uint64 {
	return f.bytesRead
}

// BytesWritten returns the number of bytes written since the last stats
// reset.
func (f *Flash) BytesWritten() uint64 {
	return f.bytesWritten
}

// BytesErased returns the number of bytes erased since the last stats reset.
func (f *Flash) BytesErased() uint64 {
	return f.bytesErased
}

// PagesErased returns the number of erase units erased since the last stats
// reset.
func (f *Flash) PagesErased() uint64 {
	return f.bytesErased / uint64(f.eraseSize)
}

// ReadAccesses returns the number of Read calls.
func (f *Flash) ReadAccesses() uint64 {
	return f.readAccesses
}

// WriteAccesses returns the number of Write calls.
func (f *Flash) WriteAccesses() uint64 {
	return f.writeAccesses
}

// EraseAccesses returns the number of Erase calls.
func (f *Flash) EraseAccesses() uint64 {
	return f.eraseAccesses
}

// TotalAccesses returns the number of Read, Write, and Erase calls.
func (f *Flash) TotalAccesses() uint64 {
	return f.readAccesses + f.writeAccesses + f.eraseAccesses
}

// TotalOperations returns the number of StartOperation calls.
func (f *Flash) TotalOperations() uint64 {
	return f.totalOperations
}

// Stats returns the accumulated access counters.
func (f *Flash) Stats() timing.Counters {
	return timing.Counters{
		BytesRead:     f.bytesRead,
		ReadAccesses:  f.readAccesses,
		BytesWritten:  f.bytesWritten,
		WriteAccesses: f.writeAccesses,
		PagesErased:   f.PagesErased(),
		EraseAccesses: f.eraseAccesses,
	}
}

// ReadTime estimates the time spent reading.
func (f *Flash) ReadTime(t timing.Timings) time.Duration {
	return t.ReadTime(f.bytesRead, f.readAccesses)
}

// WriteTime estimates the time spent programming.
func (f *Flash) WriteTime(t timing.Timings) time.Duration {
	return t.WriteTime(f.bytesWritten, f.writeAccesses)
}

// EraseTime estimates the time spent erasing.
func (f *Flash) EraseTime(t timing.Timings) time.Duration {
	return t.EraseTime(f.PagesErased(), f.eraseAccesses)
}

// TotalTime estimates the time spent on all accesses.
func (f *Flash) TotalTime(t timing.Timings) time.Duration {
	return t.TotalTime(f.Stats())
}
