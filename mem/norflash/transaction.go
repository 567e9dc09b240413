package norflash

import (
	"fmt"
	"strings"
)

// LogLevel controls which payloads a Transaction retains. Offsets, lengths,
// and tags are recorded at every level.
type LogLevel int

// Log levels, in order of increasing detail.
const (
	// LogLevelNone retains no payloads.
	LogLevelNone LogLevel = iota
	// LogLevelMinimal retains offsets and lengths only.
	LogLevelMinimal
	// LogLevelWriteDataOnly retains written bytes, which is enough to replay
	// the device contents.
	LogLevelWriteDataOnly
	// LogLevelReadWriteData also retains the bytes returned by reads.
	LogLevelReadWriteData
	// LogLevelFull also retains post-write contents and pre-erase images.
	LogLevelFull
)

var logLevelNames = []string{
	"none",
	"minimal",
	"write-data-only",
	"read-write-data",
	"full",
}

func (l LogLevel) String() string {
	if l < LogLevelNone || l > LogLevelFull {
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}

	return logLevelNames[l]
}

// ParseLogLevel converts a level name (case insensitive, "_" and "-"
// interchangeable) to a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	normalized := strings.ReplaceAll(strings.ToLower(s), "_", "-")
	for i, name := range logLevelNames {
		if name == normalized {
			return LogLevel(i), nil
		}
	}

	return LogLevelNone, fmt.Errorf("unknown log level %q", s)
}

func (l LogLevel) retainsReadData() bool {
	return l >= LogLevelReadWriteData
}

func (l LogLevel) retainsWriteData() bool {
	return l >= LogLevelWriteDataOnly
}

func (l LogLevel) retainsImages() bool {
	return l >= LogLevelFull
}

// TransactionKind tells which operation a Transaction records.
type TransactionKind int

// Transaction kinds.
const (
	TransactionRead TransactionKind = iota
	TransactionWrite
	TransactionErase
)

func (k TransactionKind) String() string {
	switch k {
	case TransactionRead:
		return "read"
	case TransactionWrite:
		return "write"
	case TransactionErase:
		return "erase"
	default:
		return fmt.Sprintf("TransactionKind(%d)", int(k))
	}
}

// A Transaction is one recorded read, write, or erase. Transactions are
// immutable once appended to the log; the payload slices are owned by the
// transaction and must not be modified by readers.
type Transaction struct {
	Kind TransactionKind

	// Tag is the operation tag that was current when the access happened.
	// It is nil if no operation was started.
	Tag fmt.Stringer

	// Offset is the first byte accessed. For erases it is the start of the
	// erased range.
	Offset uint32

	// Length is the number of bytes accessed. For erases it is the size of
	// the erased range.
	Length uint32

	// Data holds the bytes returned by a read, the bytes passed to a write,
	// or the contents of the range before an erase, depending on the log
	// level. It is nil if not retained.
	Data []byte

	// AfterWrite holds the contents of a written range after the write. It
	// is only retained at LogLevelFull.
	AfterWrite []byte
}

// From returns the start of the accessed range.
func (t Transaction) From() uint32 {
	return t.Offset
}

// To returns the end (exclusive) of the accessed range.
func (t Transaction) To() uint32 {
	return t.Offset + t.Length
}

// TagName renders the tag, or returns an empty string if there is none.
func (t Transaction) TagName() string {
	if t.Tag == nil {
		return ""
	}

	return t.Tag.String()
}

func (t Transaction) String() string {
	s := fmt.Sprintf("%s [0x%x, 0x%x)", t.Kind, t.From(), t.To())

	if t.Tag != nil {
		s += " op=" + t.Tag.String()
	}

	if t.Data != nil {
		s += fmt.Sprintf(" data=%x", t.Data)
	}

	if t.AfterWrite != nil {
		s += fmt.Sprintf(" after=%x", t.AfterWrite)
	}

	return s
}

func copyIf(retain bool, data []byte) []byte {
	if !retain {
		return nil
	}

	c := make([]byte, len(data))
	copy(c, data)

	return c
}

func newReadTransaction(
	level LogLevel,
	offset uint32,
	data []byte,
	tag fmt.Stringer,
) Transaction {
	return Transaction{
		Kind:   TransactionRead,
		Tag:    tag,
		Offset: offset,
		Length: uint32(len(data)),
		Data:   copyIf(level.retainsReadData(), data),
	}
}

func newWriteTransaction(
	level LogLevel,
	offset uint32,
	data []byte,
	afterWrite []byte,
	tag fmt.Stringer,
) Transaction {
	return Transaction{
		Kind:       TransactionWrite,
		Tag:        tag,
		Offset:     offset,
		Length:     uint32(len(data)),
		Data:       copyIf(level.retainsWriteData(), data),
		AfterWrite: copyIf(level.retainsImages(), afterWrite),
	}
}

func newEraseTransaction(
	level LogLevel,
	from, to uint32,
	beforeErase []byte,
	tag fmt.Stringer,
) Transaction {
	return Transaction{
		Kind:   TransactionErase,
		Tag:    tag,
		Offset: from,
		Length: to - from,
		Data:   copyIf(level.retainsImages(), beforeErase),
	}
}

// OperationTag is a plain string operation tag.
type OperationTag string

func (t OperationTag) String() string {
	return string(t)
}
