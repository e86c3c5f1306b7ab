package cmd

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sergev/floppyflux/disk"
)

var scanCmd = &cobra.Command{
	Use:   "scan IMAGE",
	Short: "Dump address marks and sectors of a floppy image",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		img, err := disk.LoadWithOptions(args[0], currentOptions())
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read %s: %w", args[0], err))
		}
		printScan(os.Stdout, img)
	},
}

func printScan(out io.Writer, img *disk.Image) {
	for _, t := range img.Tracks() {
		layout, _, err := t.Layout()
		if err != nil {
			log.Warnf("%v: %v", t.Ch(), err)
			continue
		}
		fmt.Fprintf(out, "%v: %v\n", t.Ch(), layout)
		for _, m := range layout.Markers {
			fmt.Fprintf(out, "    %-4v at bit %d\n", m.Kind, m.Offset)
		}
		for _, s := range layout.Sectors {
			status := "ok"
			switch {
			case !s.IDCrcOK:
				status = "bad id crc"
			case !s.HasData:
				status = "no data"
			case !s.DataCrcOK:
				status = "bad data crc"
			}
			deleted := ""
			if s.Deleted {
				deleted = ", deleted"
			}
			fmt.Fprintf(out, "    sector %v at bit %d: %s%s\n", s.ID, s.IDOffset, status, deleted)
		}
	}
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
