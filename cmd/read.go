package cmd

import (
	"bufio"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sergev/floppyflux/adapter"
	"github.com/sergev/floppyflux/config"
	"github.com/sergev/floppyflux/disk"
	"github.com/sergev/floppyflux/flux"
	"github.com/sergev/floppyflux/geom"
)

var readCmd = &cobra.Command{
	Use:   "read [DEST]",
	Short: "Capture the floppy disk into a flux or bitstream image",
	Long: `Capture every track of the floppy disk with the USB adapter and save
the image as SCP (flux) or HFE (bitstream). Without an extension the
capture format from the configuration is used.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dest := ""
		if len(args) > 0 {
			dest = args[0]
		}
		dest = captureDest(dest, config.Capture.Format)

		floppyAdapter, err := adapter.Find()
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to find USB adapter: %w", err))
		}
		defer floppyAdapter.Close()

		fmt.Printf("Insert SOURCE diskette in drive\nand press Enter when ready...")
		bufio.NewReader(os.Stdin).ReadBytes('\n')

		opts := loadOptions(settings.GetFloat64("clock"), config.PLL, config.RPM)
		revs := captureRevs(settings.GetInt("revs"), config.Capture.Revolutions)
		src := disk.SourceEntry{Path: dest, Format: disk.DetectFormat(dest)}

		img := disk.NewImage()
		err = adapter.ReadDisk(floppyAdapter, config.Cyls, config.Heads, revs, func(ch geom.Ch, captures []flux.Capture) error {
			track := disk.DecodeCaptures(ch, captures, opts)
			info := track.Info()
			log.Debugf("%v: %s, %d of %d sectors good", ch, info.Encoding, info.GoodSectors, info.Sectors)
			img.AddTrack(track, src)
			return nil
		})
		if err != nil {
			cobra.CheckErr(err)
		}

		if err := disk.Save(dest, img); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to save %s: %w", dest, err))
		}
		fmt.Printf("Saved %d tracks to %s\n", img.Len(), dest)
	},
}

func init() {
	rootCmd.AddCommand(readCmd)
}
