package timing

import (
	"log"
	"time"
)

// Freq defines the type of frequency, in Hz.
type Freq uint64

// Defines the unit of frequency
const (
	Hz  Freq = 1
	KHz Freq = 1e3
	MHz Freq = 1e6
	GHz Freq = 1e9
)

// Period returns the time between two consecutive clock edges, truncated to
// whole nanoseconds.
func (f Freq) Period() time.Duration {
	if f == 0 {
		log.Panic("frequency cannot be 0")
	}

	return time.Duration(uint64(time.Second) / uint64(f))
}

// NCycles returns the time taken by n cycles, using the truncated period.
func (f Freq) NCycles(n uint64) time.Duration {
	return f.Period() * time.Duration(n)
}

// BusWidth is the number of data lanes of the serial flash bus.
type BusWidth uint32

// Supported bus widths.
const (
	SPI  BusWidth = 1
	DSPI BusWidth = 2
	QSPI BusWidth = 4
)

func (w BusWidth) String() string {
	switch w {
	case SPI:
		return "SPI"
	case DSPI:
		return "DSPI"
	case QSPI:
		return "QSPI"
	default:
		return "BusWidth(invalid)"
	}
}

// ParseBusWidth converts "spi", "dspi", "qspi" (or "1", "2", "4") into a
// BusWidth.
func ParseBusWidth(s string) (BusWidth, bool) {
	switch s {
	case "spi", "SPI", "1":
		return SPI, true
	case "dspi", "DSPI", "2":
		return DSPI, true
	case "qspi", "QSPI", "4":
		return QSPI, true
	}

	return 0, false
}

func (w BusWidth) mustBeValid() {
	if w != SPI && w != DSPI && w != QSPI {
		log.Panicf("bus width must be 1, 2, or 4 lanes, got %d", uint32(w))
	}
}
