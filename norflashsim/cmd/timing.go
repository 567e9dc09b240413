package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sarchlab/norflashsim/timing"
)

func newTimingCmd() *cobra.Command {
	var (
		tc       timingConfig
		counters timing.Counters
	)

	cmd := &cobra.Command{
		Use:   "timing",
		Short: "Estimate the device time of a set of access counters.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := tc.build()
			if err != nil {
				return err
			}

			printEstimate(cmd.OutOrStdout(), t, counters)

			return nil
		},
	}

	tc.register(cmd.Flags())

	flags := cmd.Flags()
	flags.Uint64Var(&counters.BytesRead, "bytes-read", 0, "bytes read")
	flags.Uint64Var(&counters.ReadAccesses, "read-accesses", 0,
		"read accesses")
	flags.Uint64Var(&counters.BytesWritten, "bytes-written", 0,
		"bytes written")
	flags.Uint64Var(&counters.WriteAccesses, "write-accesses", 0,
		"write accesses")
	flags.Uint64Var(&counters.PagesErased, "pages-erased", 0, "pages erased")
	flags.Uint64Var(&counters.EraseAccesses, "erase-accesses", 0,
		"erase accesses")

	return cmd
}

func printEstimate(w io.Writer, t timing.Timings, c timing.Counters) {
	e := t.Estimate(c)

	fmt.Fprintf(w, "model: %s\n", t)
	fmt.Fprintf(w, "read:  %v (%d bytes, %d accesses)\n",
		e.Read, c.BytesRead, c.ReadAccesses)
	fmt.Fprintf(w, "write: %v (%d bytes, %d accesses)\n",
		e.Write, c.BytesWritten, c.WriteAccesses)
	fmt.Fprintf(w, "erase: %v (%d pages, %d accesses)\n",
		e.Erase, c.PagesErased, c.EraseAccesses)
	fmt.Fprintf(w, "total: %v\n", e.Total)
}
