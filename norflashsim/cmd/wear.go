package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"time"

	"github.com/pkg/browser"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/norflashsim/datarecording"
	"github.com/sarchlab/norflashsim/hooking"
	"github.com/sarchlab/norflashsim/mem/norflash"
	"github.com/sarchlab/norflashsim/monitoring"
	"github.com/sarchlab/norflashsim/timing"
)

type wearOptions struct {
	flash  flashConfig
	timing timingConfig
	seeded bool

	pages         int
	iterations    int
	snapshotEvery int

	record      string
	monitor     bool
	monitorPort int
	openMonitor bool
	linger      time.Duration
}

func newWearCmd() *cobra.Command {
	var opts wearOptions

	cmd := &cobra.Command{
		Use:   "wear",
		Short: "Wear pages out by erasing and programming them repeatedly.",
		Long: `Erases, programs, and verifies the first pages of a flash ` +
			`over and over, alternating 0x55 and 0xaa patterns. Reports the ` +
			`injected stuck bits, the bit errors seen when verifying, page ` +
			`wear, and the estimated device time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.seeded = cmd.Flags().Changed("seed")

			return runWear(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	opts.flash.register(cmd.Flags())
	opts.timing.register(cmd.Flags())

	flags := cmd.Flags()
	flags.IntVar(&opts.pages, "pages", 1, "number of pages to wear")
	flags.IntVar(&opts.iterations, "iterations", 1000,
		"erase and program cycles per page")
	flags.IntVar(&opts.snapshotEvery, "snapshot-every", 100,
		"iterations between snapshots, 0 to disable")
	flags.StringVar(&opts.record, "record", "",
		"record transactions, faults, and snapshots to this SQLite file "+
			"(without the .sqlite3 suffix)")
	flags.BoolVar(&opts.monitor, "monitor", false,
		"serve progress and snapshots over HTTP")
	flags.IntVar(&opts.monitorPort, "monitor-port", 0,
		"port of the monitor server, random if 0")
	flags.BoolVar(&opts.openMonitor, "open-monitor", false,
		"open the monitor in a browser")
	flags.DurationVar(&opts.linger, "linger", 0,
		"keep the monitor running this long after the workload ends")

	return cmd
}

type wearReport struct {
	iterations int
	pages      int
	pageSize   uint32
	faults     []norflash.Fault
	bitErrors  int
	snapshot   norflash.Snapshot
	timings    timing.Timings
}

// wearSession holds the observers attached to a wear run.
type wearSession struct {
	recorder *datarecording.SQLiteRecorder
	monitor  *monitoring.Monitor
	channel  *monitoring.SnapshotChannel
	bar      *monitoring.ProgressBar
}

func (s *wearSession) publish(snapshot norflash.Snapshot) {
	if s.channel != nil {
		s.channel.Publish(snapshot)
	}

	if s.recorder != nil {
		s.recorder.RecordSnapshot(snapshot)
	}
}

func (s *wearSession) close(linger time.Duration) error {
	var errs []error

	if s.monitor != nil {
		s.monitor.CompleteProgressBar(s.bar)

		if linger > 0 {
			log.WithField("duration", linger).Info("monitor lingering")
			time.Sleep(linger)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		errs = append(errs, s.monitor.StopServer(ctx))
		cancel()
	}

	if s.recorder != nil {
		errs = append(errs, s.recorder.Close())
	}

	return errors.Join(errs...)
}

func (o *wearOptions) validate(f *norflash.Flash) error {
	if o.pages < 1 || o.pages > f.PageCount() {
		return fmt.Errorf("pages must be between 1 and %d, got %d",
			f.PageCount(), o.pages)
	}

	if o.iterations < 0 {
		return fmt.Errorf("iterations must not be negative, got %d",
			o.iterations)
	}

	if f.EraseSize()%f.WriteSize() != 0 || f.EraseSize()%f.ReadSize() != 0 {
		return fmt.Errorf(
			"erase size %d is not a multiple of the read and write sizes",
			f.EraseSize())
	}

	return nil
}

func runWear(ctx context.Context, opts wearOptions, w io.Writer) error {
	t, err := opts.timing.build()
	if err != nil {
		return err
	}

	report := &wearReport{
		iterations: opts.iterations,
		pages:      opts.pages,
		timings:    t,
	}

	session := &wearSession{}
	hooks := []hooking.Hook{
		hooking.HookFunc(func(hc hooking.HookCtx) {
			if fault, ok := hc.Item.(norflash.Fault); ok {
				report.faults = append(report.faults, fault)
			}
		}),
	}

	if opts.record != "" {
		session.recorder, err = datarecording.NewSQLiteRecorder(opts.record)
		if err != nil {
			return err
		}

		hooks = append(hooks, session.recorder)
	}

	flash, err := opts.flash.build("Flash", opts.seeded, hooks...)
	if err == nil {
		err = opts.validate(flash)
	}

	if err == nil && opts.monitor {
		err = session.startMonitor(opts, flash.Name(), t)
	}

	if err != nil {
		return errors.Join(err, session.close(0))
	}

	report.pageSize = flash.EraseSize()
	err = wear(ctx, flash, opts, session, report)
	report.snapshot = flash.Snapshot(false)
	session.publish(report.snapshot)

	printWearReport(w, report)

	return errors.Join(err, session.close(opts.linger))
}

func (s *wearSession) startMonitor(
	opts wearOptions,
	name string,
	t timing.Timings,
) error {
	s.monitor = monitoring.NewMonitor().WithPortNumber(opts.monitorPort)
	s.channel = monitoring.NewSnapshotChannel()
	s.monitor.RegisterFlash(name, s.channel)
	s.monitor.RegisterTimings(name, t)
	s.bar = s.monitor.CreateProgressBar("wear", uint64(opts.iterations))

	url, err := s.monitor.StartServer()
	if err != nil {
		s.monitor = nil
		return err
	}

	if opts.openMonitor {
		err = browser.OpenURL(url + "/api/progress")
		if err != nil {
			log.WithError(err).Warn("failed to open the monitor")
		}
	}

	return nil
}

func wear(
	ctx context.Context,
	flash *norflash.Flash,
	opts wearOptions,
	session *wearSession,
	report *wearReport,
) error {
	pageSize := flash.EraseSize()
	patterns := [][]byte{
		bytes.Repeat([]byte{0x55}, int(pageSize)),
		bytes.Repeat([]byte{0xaa}, int(pageSize)),
	}
	buf := make([]byte, pageSize)

	for i := 0; i < opts.iterations; i++ {
		if err := ctx.Err(); err != nil {
			report.iterations = i
			return err
		}

		if session.bar != nil {
			session.bar.IncrementInProgress(1)
		}

		expected := patterns[i%2]
		flash.StartOperation(norflash.OperationTag(fmt.Sprintf("wear-%d", i)))

		for p := 0; p < opts.pages; p++ {
			from := uint32(p) * pageSize

			err := cycle(flash, from, expected, buf)
			if err != nil {
				return err
			}

			report.bitErrors += countBitErrors(expected, buf)
		}

		if session.bar != nil {
			session.bar.MoveInProgressToFinished(1)
		}

		if opts.snapshotEvery > 0 && (i+1)%opts.snapshotEvery == 0 {
			session.publish(flash.Snapshot(false))
		}
	}

	return nil
}

// cycle erases the page at from, programs it with data, and reads it back
// into buf.
func cycle(flash *norflash.Flash, from uint32, data, buf []byte) error {
	err := flash.Erase(from, from+uint32(len(data)))
	if err != nil {
		return err
	}

	err = flash.Write(from, data)
	if err != nil {
		return err
	}

	return flash.Read(from, buf)
}

func countBitErrors(expected, actual []byte) int {
	n := 0
	for i := range expected {
		n += bits.OnesCount8(expected[i] ^ actual[i])
	}

	return n
}

func printWearReport(w io.Writer, r *wearReport) {
	s := r.snapshot

	fmt.Fprintf(w, "flash: %s, %d pages of %d bytes\n",
		s.Name, len(s.PageCycles), r.pageSize)
	fmt.Fprintf(w, "wear: %d iterations on %d page(s)\n",
		r.iterations, r.pages)
	fmt.Fprintf(w, "max page cycles: %d\n", s.MaxPageCycles())
	fmt.Fprintf(w, "faults: %d\n", len(r.faults))

	for _, f := range r.faults {
		fmt.Fprintf(w, "  %s\n", f)
	}

	fmt.Fprintf(w, "stuck bits: %d\n", s.StuckBits)
	fmt.Fprintf(w, "bit errors: %d\n", r.bitErrors)

	printEstimate(w, r.timings, s.Counters)
}
