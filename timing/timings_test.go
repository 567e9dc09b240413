package timing

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Timings", func() {
	var t Timings

	BeforeEach(func() {
		t = New(QSPI, 80*MHz, 45*time.Millisecond, 8)
	})

	It("should derive the per byte and per access cost", func() {
		Expect(t.ReadTimePerByte()).To(Equal(25 * time.Nanosecond))
		Expect(t.AccessOverhead()).To(Equal(96 * time.Nanosecond))
		Expect(t.PageEraseTime()).To(Equal(45 * time.Millisecond))
	})

	It("should scale the byte time with the number of lanes", func() {
		spi := New(SPI, 10*MHz, 45*time.Millisecond, 0)
		dspi := New(DSPI, 10*MHz, 45*time.Millisecond, 0)

		Expect(spi.ReadTimePerByte()).To(Equal(800 * time.Nanosecond))
		Expect(dspi.ReadTimePerByte()).To(Equal(400 * time.Nanosecond))
	})

	It("should estimate read time", func() {
		Expect(t.ReadTime(4096, 1)).To(Equal(102496 * time.Nanosecond))
	})

	It("should estimate write time", func() {
		Expect(t.WriteTime(256, 2)).To(Equal(6592 * time.Nanosecond))
	})

	It("should estimate erase time at millisecond granularity", func() {
		Expect(t.EraseTime(3, 2)).To(Equal(135 * time.Millisecond))
		Expect(t.EraseTime(0, 20000)).To(Equal(1 * time.Millisecond))
	})

	It("should sum truncated components into the total", func() {
		c := Counters{
			BytesRead:     1000000,
			ReadAccesses:  10,
			BytesWritten:  400000,
			WriteAccesses: 100,
			PagesErased:   2,
			EraseAccesses: 2,
		}

		Expect(t.TotalTime(c)).To(Equal(125 * time.Millisecond))

		b := t.Estimate(c)
		Expect(b.Read).To(Equal(25000960 * time.Nanosecond))
		Expect(b.Write).To(Equal(10009600 * time.Nanosecond))
		Expect(b.Erase).To(Equal(90 * time.Millisecond))
		Expect(b.Total).To(Equal(125 * time.Millisecond))
	})

	It("should be zero for zero counters", func() {
		Expect(t.TotalTime(Counters{})).To(BeZero())
	})

	It("should panic on an unsupported bus width", func() {
		Expect(func() { New(BusWidth(3), 80*MHz, time.Millisecond, 0) }).
			To(Panic())
	})
})

var _ = Describe("Counters", func() {
	It("should subtract and count accesses", func() {
		after := Counters{BytesRead: 10, ReadAccesses: 2, WriteAccesses: 3,
			EraseAccesses: 1, PagesErased: 4}
		before := Counters{BytesRead: 4, ReadAccesses: 1}

		diff := after.Sub(before)
		Expect(diff.BytesRead).To(Equal(uint64(6)))
		Expect(diff.ReadAccesses).To(Equal(uint64(1)))
		Expect(diff.TotalAccesses()).To(Equal(uint64(5)))
	})
})
