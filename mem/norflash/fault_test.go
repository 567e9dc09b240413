package norflash

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/norflashsim/hooking"
)

type faultCollector struct {
	faults []Fault
}

func (c *faultCollector) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosFault {
		return
	}

	c.faults = append(c.faults, ctx.Item.(Fault))
}

func wearingFlash(seed uint64, collector *faultCollector) *Flash {
	return MakeBuilder().
		WithCapacity(2 * 4096).
		WithSafeEraseCycles(5).
		WithFaultPeriod(3).
		WithSeed(seed).
		WithHook(collector).
		Build("Wearing")
}

var _ = Describe("Fault model", func() {
	It("should not inject faults within the safe cycles", func() {
		m := newFaultModel(nil, 5, 3, 4096)

		for cycle := uint32(0); cycle <= 5; cycle++ {
			Expect(m.shouldFail(cycle)).To(BeFalse())
		}
	})

	It("should inject faults periodically past the safe cycles", func() {
		m := newFaultModel(nil, 5, 3, 4096)

		Expect(m.shouldFail(6)).To(BeFalse())
		Expect(m.shouldFail(7)).To(BeFalse())
		Expect(m.shouldFail(8)).To(BeTrue())
		Expect(m.shouldFail(11)).To(BeTrue())
		Expect(m.shouldFail(12)).To(BeFalse())
	})

	It("should never fail when unbounded", func() {
		m := newFaultModel(nil, Unbounded, Unbounded, 4096)

		Expect(m.shouldFail(Unbounded)).To(BeFalse())
	})

	It("should draw faults inside the page", func() {
		seed := uint64(7)
		m := newFaultModel(&seed, 0, 1, 256)

		for i := 0; i < 1000; i++ {
			fault := m.draw(3, 1)
			Expect(fault.Page).To(Equal(3))
			Expect(fault.Offset).To(BeNumerically(">=", 3*256))
			Expect(fault.Offset).To(BeNumerically("<", 4*256))
			Expect(fault.Bit).To(BeNumerically("<", 8))
		}
	})

	It("should produce both fault kinds", func() {
		seed := uint64(11)
		m := newFaultModel(&seed, 0, 1, 4096)

		kinds := map[FaultKind]int{}
		for i := 0; i < 200; i++ {
			kinds[m.draw(0, 1).Kind]++
		}

		Expect(kinds[StuckAt0]).To(BeNumerically(">", 0))
		Expect(kinds[StuckAt1]).To(BeNumerically(">", 0))
	})

	It("should render faults", func() {
		f := Fault{Kind: StuckAt1, Page: 2, Offset: 0x2010, Bit: 3, Cycle: 8}

		Expect(f.String()).
			To(Equal("stuck-at-1 at 0x2010 bit 3 (page 2, cycle 8)"))
	})
})

var _ = Describe("Wear-out", func() {
	It("should inject exactly two faults in eleven erases", func() {
		collector := &faultCollector{}
		f := wearingFlash(42, collector)

		for i := 0; i < 11; i++ {
			Expect(f.Erase(0, 4096)).To(Succeed())
		}

		Expect(f.PageEraseCycles()).To(Equal([]uint32{11, 0}))
		Expect(collector.faults).To(HaveLen(2))
		Expect(collector.faults[0].Cycle).To(Equal(uint32(8)))
		Expect(collector.faults[1].Cycle).To(Equal(uint32(11)))
		Expect(collector.faults[0].Page).To(Equal(0))
		Expect(f.StuckBits()).To(BeNumerically(">=", 1))
	})

	It("should inject the same faults for the same seed", func() {
		c1 := &faultCollector{}
		c2 := &faultCollector{}
		f1 := wearingFlash(1234, c1)
		f2 := wearingFlash(1234, c2)

		for i := 0; i < 30; i++ {
			Expect(f1.Erase(0, 2*4096)).To(Succeed())
			Expect(f2.Erase(0, 2*4096)).To(Succeed())
		}

		Expect(c1.faults).To(HaveLen(16))
		Expect(c1.faults).To(Equal(c2.faults))
		Expect(f1.stuckAt0).To(Equal(f2.stuckAt0))
		Expect(f1.stuckAt1).To(Equal(f2.stuckAt1))
	})

	It("should never set a bit in both masks", func() {
		collector := &faultCollector{}
		f := MakeBuilder().
			WithCapacity(4096).
			WithEraseSize(4096).
			WithSafeEraseCycles(0).
			WithFaultPeriod(1).
			WithSeed(99).
			WithHook(collector).
			Build("Worn")

		for i := 0; i < 5000; i++ {
			Expect(f.Erase(0, 4096)).To(Succeed())
		}

		for i := range f.stuckAt0 {
			Expect(f.stuckAt0[i] & f.stuckAt1[i]).To(BeZero())
		}
	})

	It("should corrupt reads after the erase that injects a fault", func() {
		collector := &faultCollector{}
		f := wearingFlash(42, collector)

		for i := 0; i < 8; i++ {
			Expect(f.Erase(0, 4096)).To(Succeed())
		}

		Expect(collector.faults).To(HaveLen(1))
		fault := collector.faults[0]

		Expect(f.Write(0, bytesOf(4096, 0x00))).To(Succeed())
		buf := make([]byte, 4096)
		Expect(f.Read(0, buf)).To(Succeed())

		if fault.Kind == StuckAt1 {
			Expect(buf[fault.Offset]).To(Equal(byte(1) << fault.Bit))
		} else {
			Expect(f.Erase(0, 4096)).To(Succeed())
			Expect(f.Read(0, buf)).To(Succeed())
			Expect(buf[fault.Offset]).To(Equal(^(byte(1) << fault.Bit)))
		}
	})
})
