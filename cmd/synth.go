package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/floppyflux/config"
	"github.com/sergev/floppyflux/disk"
	"github.com/sergev/floppyflux/geom"
	"github.com/sergev/floppyflux/system34"
)

var (
	synthSectors int
	synthSize    int
	synthFill    uint8
)

var synthCmd = &cobra.Command{
	Use:   "synth DEST",
	Short: "Create the image of a freshly formatted floppy disk",
	Long: `Lay out IBM PC formatted tracks for the configured drive and save
them as DEST. An SCP destination gets synthesized flux transitions.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dest := args[0]
		if disk.DetectFormat(dest) == disk.FormatUnknown {
			cobra.CheckErr(fmt.Errorf("unknown output format for %s", dest))
		}
		rate := geom.DataRate(config.MaxKBps * 1000)
		spt := synthSectors
		if spt == 0 {
			spt = defaultSectors(rate)
		}
		img := formattedImage(config.Cyls, config.Heads, spt, geom.SizeCode(synthSize), synthFill, rate, geom.RPM(config.RPM))
		if err := disk.Save(dest, img); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to write %s: %w", dest, err))
		}
		fmt.Printf("Formatted %d cylinders, %d side(s), %d sectors of %d bytes to %s\n",
			config.Cyls, config.Heads, spt, synthSize, dest)
	},
}

// defaultSectors returns the PC sectors per track for a data rate.
func defaultSectors(rate geom.DataRate) int {
	switch {
	case rate >= geom.Rate1M:
		return 36
	case rate >= geom.Rate500K:
		return 18
	default:
		return 9
	}
}

func formattedImage(cyls, heads, spt int, n, fill uint8, rate geom.DataRate, rpm geom.RPM) *disk.Image {
	img := disk.NewImage()
	src := disk.SourceEntry{Path: "synth", Format: disk.FormatUnknown}
	for cyl := 0; cyl < cyls; cyl++ {
		for head := 0; head < heads; head++ {
			ch := geom.Ch{Cyl: uint16(cyl), Head: uint8(head)}
			meta := &disk.MetaSectorTrack{Ch: ch, DataRate: rate, RPM: rpm}
			for _, s := range system34.FormatSectors(ch, spt, n, fill) {
				meta.Sectors = append(meta.Sectors, disk.Sector{ID: s.ID, Data: s.Data})
			}
			img.AddTrack(disk.NewMetaSector(meta), src)
		}
	}
	return img
}

func init() {
	synthCmd.Flags().IntVarP(&synthSectors, "sectors", "s", 0, "sectors per track, 0 for the drive default")
	synthCmd.Flags().IntVar(&synthSize, "size", 512, "sector size in bytes")
	synthCmd.Flags().Uint8Var(&synthFill, "fill", 0xF6, "fill byte of sector data")
	rootCmd.AddCommand(synthCmd)
}
