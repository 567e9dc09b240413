package norflash

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/norflashsim/hooking"
	"github.com/sarchlab/norflashsim/timing"
)

func bytesOf(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}

	return b
}

var _ = Describe("Flash", func() {
	var (
		f *Flash
	)

	BeforeEach(func() {
		f = MakeBuilder().
			WithCapacity(4 * 4096).
			WithGeometry(GeometryR1W4E4K).
			Build("Flash")
	})

	It("should start erased", func() {
		buf := make([]byte, 16)
		Expect(f.Read(0, buf)).To(Succeed())

		Expect(buf).To(Equal(bytesOf(16, 0xff)))
		Expect(f.Capacity()).To(Equal(4 * 4096))
		Expect(f.PageCount()).To(Equal(4))
		Expect(f.Name()).To(Equal("Flash"))
	})

	It("should write and read back", func() {
		Expect(f.Write(8, []byte{0xa5, 0x5a, 0x00, 0xf0})).To(Succeed())

		buf := make([]byte, 4)
		Expect(f.Read(8, buf)).To(Succeed())

		Expect(buf).To(Equal([]byte{0xa5, 0x5a, 0x00, 0xf0}))
	})

	It("should only clear bits when writing twice", func() {
		Expect(f.Write(0, []byte{0xf0, 0xff, 0x0f, 0xaa})).To(Succeed())
		Expect(f.Write(0, []byte{0x3c, 0x00, 0xff, 0x55})).To(Succeed())

		buf := make([]byte, 4)
		Expect(f.Read(0, buf)).To(Succeed())

		Expect(buf).To(Equal([]byte{0x30, 0x00, 0x0f, 0x00}))
	})

	It("should erase a page back to all ones", func() {
		Expect(f.Write(4096, bytesOf(8, 0x00))).To(Succeed())
		Expect(f.Erase(4096, 8192)).To(Succeed())

		buf := make([]byte, 8)
		Expect(f.Read(4096, buf)).To(Succeed())

		Expect(buf).To(Equal(bytesOf(8, 0xff)))
		Expect(f.BytesErased()).To(Equal(uint64(4096)))
		Expect(f.PagesErased()).To(Equal(uint64(1)))
		Expect(f.EraseAccesses()).To(Equal(uint64(1)))
	})

	It("should count bytes and accesses", func() {
		Expect(f.Write(0, bytesOf(8, 0x00))).To(Succeed())
		Expect(f.Read(0, make([]byte, 3))).To(Succeed())
		Expect(f.Read(5, make([]byte, 2))).To(Succeed())
		Expect(f.Erase(0, 8192)).To(Succeed())

		Expect(f.BytesWritten()).To(Equal(uint64(8)))
		Expect(f.WriteAccesses()).To(Equal(uint64(1)))
		Expect(f.BytesRead()).To(Equal(uint64(5)))
		Expect(f.ReadAccesses()).To(Equal(uint64(2)))
		Expect(f.PagesErased()).To(Equal(uint64(2)))
		Expect(f.TotalAccesses()).To(Equal(uint64(4)))
		Expect(f.Stats()).To(Equal(timing.Counters{
			BytesRead:     5,
			ReadAccesses:  2,
			BytesWritten:  8,
			WriteAccesses: 1,
			PagesErased:   2,
			EraseAccesses: 1,
		}))
	})

	It("should increment each erased page once per erase call", func() {
		Expect(f.Erase(0, 3*4096)).To(Succeed())
		Expect(f.Erase(4096, 2*4096)).To(Succeed())

		Expect(f.PageEraseCycles()).To(Equal([]uint32{1, 2, 1, 0}))
	})

	It("should accept zero-length reads and writes", func() {
		Expect(f.Read(4, nil)).To(Succeed())
		Expect(f.Write(4, []byte{})).To(Succeed())
		Expect(f.Read(uint32(f.Capacity()), nil)).To(Succeed())

		Expect(f.ReadAccesses()).To(Equal(uint64(2)))
		Expect(f.WriteAccesses()).To(Equal(uint64(1)))
		Expect(f.BytesRead()).To(BeZero())
		Expect(f.NumTransactions()).To(Equal(3))
	})

	Context("when preconditions are violated", func() {
		It("should panic on misaligned writes", func() {
			Expect(func() { _ = f.Write(2, bytesOf(4, 0)) }).To(Panic())
			Expect(func() { _ = f.Write(0, bytesOf(3, 0)) }).To(Panic())
		})

		It("should panic on misaligned reads", func() {
			r4 := MakeBuilder().
				WithCapacity(4096).
				WithGeometry(GeometryR4W4E4K).
				Build("R4")

			Expect(func() { _ = r4.Read(2, make([]byte, 4)) }).To(Panic())
			Expect(func() { _ = r4.Read(0, make([]byte, 2)) }).To(Panic())
		})

		It("should panic on misaligned erases", func() {
			Expect(func() { _ = f.Erase(1, 4096) }).To(Panic())
			Expect(func() { _ = f.Erase(0, 4097) }).To(Panic())
		})

		It("should panic on empty or reversed erase ranges", func() {
			Expect(func() { _ = f.Erase(4096, 4096) }).To(Panic())
			Expect(func() { _ = f.Erase(8192, 4096) }).To(Panic())
		})

		It("should panic on accesses beyond the capacity", func() {
			Expect(func() { _ = f.Read(4*4096-4, make([]byte, 8)) }).To(Panic())
			Expect(func() { _ = f.Write(4*4096, bytesOf(4, 0)) }).To(Panic())
			Expect(func() { _ = f.Erase(0, 5*4096) }).To(Panic())
		})

		It("should not apply a failed access", func() {
			Expect(func() { _ = f.Write(2, bytesOf(4, 0)) }).To(Panic())

			Expect(f.WriteAccesses()).To(BeZero())
			Expect(f.NumTransactions()).To(BeZero())
		})
	})

	Context("with stuck bits", func() {
		It("should apply stuck bits to reads without changing data", func() {
			Expect(f.Write(0, bytesOf(4, 0x00))).To(Succeed())
			f.stuckAt1[1] = 0x81
			f.stuckAt0[2] = 0xff

			buf := make([]byte, 4)
			Expect(f.Read(0, buf)).To(Succeed())

			Expect(buf).To(Equal([]byte{0x00, 0x81, 0x00, 0x00}))
			Expect(f.data[1]).To(Equal(byte(0x00)))
		})

		It("should not let writes override stuck bits", func() {
			f.stuckAt1[0] = 0x01
			f.stuckAt0[1] = 0x80

			Expect(f.Write(0, []byte{0x00, 0xff, 0xff, 0xff})).To(Succeed())

			Expect(f.data[0]).To(Equal(byte(0x01)))
			Expect(f.data[1]).To(Equal(byte(0x7f)))
		})

		It("should keep stuck-at-0 bits cleared after erase", func() {
			f.stuckAt0[5] = 0x80

			Expect(f.Erase(0, 4096)).To(Succeed())

			Expect(f.data[5]).To(Equal(byte(0x7f)))
			Expect(f.data[4]).To(Equal(byte(0xff)))
			Expect(f.StuckBits()).To(Equal(1))
		})
	})

	Context("when resetting", func() {
		BeforeEach(func() {
			f.SetLogLevel(LogLevelFull)
			f.StartOperation(OperationTag("fill"))
			Expect(f.Write(0, bytesOf(8, 0x00))).To(Succeed())
			Expect(f.Erase(4096, 8192)).To(Succeed())
			f.stuckAt1[100] = 0x04
		})

		It("should restore everything on reset", func() {
			f.Reset()

			buf := make([]byte, 8)
			Expect(f.Read(0, buf)).To(Succeed())
			Expect(buf).To(Equal(bytesOf(8, 0xff)))

			Expect(f.BytesWritten()).To(BeZero())
			Expect(f.EraseAccesses()).To(BeZero())
			Expect(f.TotalOperations()).To(BeZero())
			Expect(f.CurrentOperation()).To(BeNil())
			Expect(f.PageEraseCycles()).To(Equal([]uint32{0, 0, 0, 0}))
			Expect(f.StuckBits()).To(BeZero())
			Expect(f.NumTransactions()).To(Equal(1))
		})

		It("should keep data and log when resetting failures", func() {
			f.ResetFailures()

			Expect(f.data[0]).To(Equal(byte(0x00)))
			Expect(f.NumTransactions()).To(Equal(2))
			Expect(f.BytesWritten()).To(Equal(uint64(8)))
			Expect(f.StuckBits()).To(BeZero())
			Expect(f.PageEraseCycles()).To(Equal([]uint32{0, 0, 0, 0}))
		})

		It("should keep data and stuck bits when resetting stats", func() {
			f.ResetStats()

			Expect(f.data[0]).To(Equal(byte(0x00)))
			Expect(f.StuckBits()).To(Equal(1))
			Expect(f.NumTransactions()).To(BeZero())
			Expect(f.BytesWritten()).To(BeZero())
			Expect(f.PageEraseCycles()).To(Equal([]uint32{0, 0, 0, 0}))
			Expect(f.CurrentOperation()).To(BeNil())
		})
	})

	It("should tag transactions with the current operation", func() {
		Expect(f.Read(0, make([]byte, 1))).To(Succeed())
		f.StartOperation(OperationTag("push"))
		Expect(f.Write(0, bytesOf(4, 0))).To(Succeed())
		f.StartOperation(OperationTag("pop"))
		Expect(f.Read(0, make([]byte, 4))).To(Succeed())

		txs := f.Transactions()
		Expect(txs).To(HaveLen(3))
		Expect(txs[0].Tag).To(BeNil())
		Expect(txs[1].TagName()).To(Equal("push"))
		Expect(txs[2].TagName()).To(Equal("pop"))
		Expect(f.TotalOperations()).To(Equal(uint64(2)))
	})

	It("should return copies of the log and the cycle counters", func() {
		Expect(f.Erase(0, 4096)).To(Succeed())

		cycles := f.PageEraseCycles()
		cycles[0] = 100
		txs := f.Transactions()
		txs[0].Offset = 100

		Expect(f.PageEraseCycles()[0]).To(Equal(uint32(1)))
		Expect(f.Transactions()[0].Offset).To(Equal(uint32(0)))
	})

	It("should estimate time from the counters", func() {
		t := timing.New(timing.QSPI, 80*timing.MHz, 45*time.Millisecond, 8)

		Expect(f.Write(0, bytesOf(256, 0))).To(Succeed())
		Expect(f.Read(0, make([]byte, 4096))).To(Succeed())
		Expect(f.Erase(0, 8192)).To(Succeed())

		Expect(f.ReadTime(t)).To(Equal(102496 * time.Nanosecond))
		Expect(f.WriteTime(t)).To(Equal(6496 * time.Nanosecond))
		Expect(f.EraseTime(t)).To(Equal(90 * time.Millisecond))
		Expect(f.TotalTime(t)).To(Equal(90 * time.Millisecond))
	})

	It("should behave the same through the context-aware view", func() {
		a := f.Async()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Expect(a.Write(ctx, 0, []byte{0x12, 0x34, 0x56, 0x78})).To(Succeed())

		buf := make([]byte, 4)
		Expect(a.Read(ctx, 0, buf)).To(Succeed())
		Expect(buf).To(Equal([]byte{0x12, 0x34, 0x56, 0x78}))

		Expect(a.Erase(ctx, 0, 4096)).To(Succeed())
		Expect(a.Capacity()).To(Equal(f.Capacity()))
		Expect(a.WriteSize()).To(Equal(uint32(4)))
		Expect(a.Flash()).To(BeIdenticalTo(f))
		Expect(f.TotalAccesses()).To(Equal(uint64(3)))
		Expect(func() { _ = a.Write(ctx, 1, bytesOf(4, 0)) }).To(Panic())
	})
})

var _ = Describe("Builder", func() {
	It("should reject a capacity that is not a multiple of the erase size", func() {
		Expect(func() { MakeBuilder().WithCapacity(5000).Build("F") }).
			To(Panic())
	})

	It("should reject zero alignments", func() {
		Expect(func() { MakeBuilder().WithWriteSize(0).Build("F") }).To(Panic())
	})

	It("should reject a zero fault period", func() {
		Expect(func() { MakeBuilder().WithFaultPeriod(0).Build("F") }).
			To(Panic())
	})

	It("should report invalid configurations without panicking", func() {
		Expect(MakeBuilder().Validate()).To(Succeed())
		Expect(MakeBuilder().WithCapacity(5000).Validate()).
			To(MatchError(ContainSubstring("not a multiple")))
		Expect(MakeBuilder().WithEraseSize(0).Validate()).To(HaveOccurred())
		Expect(MakeBuilder().WithFaultPeriod(0).Validate()).
			To(MatchError("fault period must be positive"))
	})

	It("should apply individual sizes", func() {
		f := MakeBuilder().
			WithCapacity(8 * 256).
			WithReadSize(2).
			WithWriteSize(8).
			WithEraseSize(256).
			WithLogLevel(LogLevelMinimal).
			Build("Small")

		Expect(f.ReadSize()).To(Equal(uint32(2)))
		Expect(f.WriteSize()).To(Equal(uint32(8)))
		Expect(f.EraseSize()).To(Equal(uint32(256)))
		Expect(f.PageCount()).To(Equal(8))
		Expect(f.LogLevel()).To(Equal(LogLevelMinimal))
	})
})

var _ = Describe("Hooks", func() {
	var (
		mockCtrl *gomock.Controller
		hook     *MockHook
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		hook = NewMockHook(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should invoke hooks for every transaction", func() {
		f := MakeBuilder().WithCapacity(4096).WithHook(hook).Build("Flash")

		var kinds []TransactionKind
		hook.EXPECT().
			Func(gomock.Any()).
			Do(func(ctx hooking.HookCtx) {
				Expect(ctx.Pos).To(BeIdenticalTo(HookPosTransaction))
				Expect(ctx.Domain).To(BeIdenticalTo(f))
				kinds = append(kinds, ctx.Item.(Transaction).Kind)
			}).
			Times(3)

		Expect(f.Write(0, []byte{0})).To(Succeed())
		Expect(f.Read(0, make([]byte, 1))).To(Succeed())
		Expect(f.Erase(0, 4096)).To(Succeed())

		Expect(kinds).To(Equal([]TransactionKind{
			TransactionWrite, TransactionRead, TransactionErase,
		}))
	})
})
