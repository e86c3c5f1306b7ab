package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sergev/floppyflux/disk"
)

var infoCmd = &cobra.Command{
	Use:   "info IMAGE",
	Short: "Show the tracks of a floppy image",
	Long: `Decode IMAGE and print one line per track: kind, encoding, data rate,
bit length, sectors and weak bits.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		img, err := disk.LoadWithOptions(args[0], currentOptions())
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read %s: %w", args[0], err))
		}
		printInfo(os.Stdout, img)
	},
}

func printInfo(out io.Writer, img *disk.Image) {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACK\tKIND\tENCODING\tRATE\tRPM\tBITS\tSECTORS\tWEAK")
	total, good := 0, 0
	for _, t := range img.Tracks() {
		info := t.Info()
		if !info.Resolved {
			fmt.Fprintf(tw, "%v\t%s\t-\t-\t-\t-\t-\t-\n", info.Ch, info.Kind)
			continue
		}
		fmt.Fprintf(tw, "%v\t%s\t%s\t%dK\t%d\t%d\t%d/%d\t%d\n", info.Ch, info.Kind, info.Encoding,
			info.DataRate, info.RPM, info.BitLength, info.GoodSectors, info.Sectors, info.WeakBits)
		total += info.Sectors
		good += info.GoodSectors
	}
	tw.Flush()
	fmt.Fprintf(out, "%d tracks, %d of %d sectors good\n", img.Len(), good, total)
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
