package monitoring

import "github.com/sarchlab/norflashsim/mem/norflash"

// A SnapshotChannel hands snapshots from the goroutine that owns a flash to
// an observer. It holds at most one pending snapshot. Publishing replaces a
// snapshot that has not been consumed yet, so the producer never blocks.
type SnapshotChannel struct {
	ch chan norflash.Snapshot
}

// NewSnapshotChannel creates an empty SnapshotChannel.
func NewSnapshotChannel() *SnapshotChannel {
	return &SnapshotChannel{ch: make(chan norflash.Snapshot, 1)}
}

// Publish makes s the pending snapshot, dropping the previous one if it has
// not been consumed.
func (c *SnapshotChannel) Publish(s norflash.Snapshot) {
	for {
		select {
		case c.ch <- s:
			return
		default:
		}

		select {
		case <-c.ch:
		default:
		}
	}
}

// Latest consumes the pending snapshot. It returns false if there is none.
func (c *SnapshotChannel) Latest() (norflash.Snapshot, bool) {
	select {
	case s := <-c.ch:
		return s, true
	default:
		return norflash.Snapshot{}, false
	}
}

// C returns the channel the snapshots are delivered on.
func (c *SnapshotChannel) C() <-chan norflash.Snapshot {
	return c.ch
}
