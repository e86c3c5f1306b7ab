package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/floppyflux/disk"
)

var decodeCmd = &cobra.Command{
	Use:   "decode SRC DEST",
	Short: "Convert a floppy image to another format",
	Long: `Decode the flux of SRC into bitstreams and save them as DEST.
The output format is chosen by the extension of DEST: HFE, SCP or IMG.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		src, dest := args[0], args[1]
		if disk.DetectFormat(dest) == disk.FormatUnknown {
			cobra.CheckErr(fmt.Errorf("unknown output format for %s", dest))
		}

		img, err := disk.LoadWithOptions(src, currentOptions())
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read %s: %w", src, err))
		}
		if err := disk.Save(dest, img); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to write %s: %w", dest, err))
		}
		cyls, heads := img.Geometry()
		fmt.Printf("Converted %d tracks (%d cylinders, %d side(s)) to %s\n", img.Len(), cyls, heads, dest)
	},
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}
