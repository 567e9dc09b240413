package cmd

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sarchlab/norflashsim/mem/norflash"
)

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Write and read back 16 bytes and print the transactions.",
		Long: `Writes 16 bytes of 0xa5 to a 1 MiB flash with 1-byte reads, ` +
			`4-byte writes, and 4 KiB pages, reads them back, and prints the ` +
			`transaction log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.OutOrStdout())
		},
	}
}

func runDemo(w io.Writer) error {
	flash := norflash.MakeBuilder().
		WithCapacity(1024 * 1024).
		WithGeometry(norflash.GeometryR1W4E4K).
		WithLogLevel(norflash.LogLevelWriteDataOnly).
		Build("Flash")

	data := bytes.Repeat([]byte{0xa5}, 16)
	if err := flash.Write(0, data); err != nil {
		return err
	}

	buf := make([]byte, len(data))
	if err := flash.Read(0, buf); err != nil {
		return err
	}

	for _, t := range flash.Transactions() {
		fmt.Fprintln(w, t)
	}

	return nil
}
