package norflash

import (
	"time"

	"github.com/sarchlab/norflashsim/timing"
)

// A Snapshot is a point-in-time copy of the flash state and statistics. It
// shares no memory with the flash, so it can be handed to other goroutines.
type Snapshot struct {
	Name string `json:"name"`

	// Data is the raw contents, without stuck bits applied. It is nil unless
	// requested.
	Data []byte `json:"data,omitempty"`

	PageCycles      []uint32        `json:"page_cycles"`
	Counters        timing.Counters `json:"counters"`
	BytesErased     uint64          `json:"bytes_erased"`
	TotalAccesses   uint64          `json:"total_accesses"`
	TotalOperations uint64          `json:"total_operations"`
	TransactionsLen int             `json:"transactions_len"`
	StuckBits       int             `json:"stuck_bits"`

	// LastOperation is the rendered tag of the current operation, or an
	// empty string.
	LastOperation string `json:"last_operation"`

	CapturedAt time.Time `json:"captured_at"`
}

// PagesErased returns the number of erase units erased.
func (s Snapshot) PagesErased() uint64 {
	return s.Counters.PagesErased
}

// MaxPageCycles returns the highest erase count of any page.
func (s Snapshot) MaxPageCycles() uint32 {
	var highest uint32
	for _, c := range s.PageCycles {
		if c > highest {
			highest = c
		}
	}

	return highest
}

// Snapshot captures the current state. The contents are only copied if
// withData is true.
func (f *Flash) Snapshot(withData bool) Snapshot {
	s := Snapshot{
		Name:            f.name,
		PageCycles:      f.PageEraseCycles(),
		Counters:        f.Stats(),
		BytesErased:     f.bytesErased,
		TotalAccesses:   f.TotalAccesses(),
		TotalOperations: f.totalOperations,
		TransactionsLen: len(f.transactions),
		StuckBits:       f.StuckBits(),
		CapturedAt:      time.Now(),
	}

	if withData {
		s.Data = make([]byte, len(f.data))
		copy(s.Data, f.data)
	}

	if f.currentOperation != nil {
		s.LastOperation = f.currentOperation.String()
	}

	return s
}
