package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/floppyflux/adapter"
	"github.com/sergev/floppyflux/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the floppy controller",
	Long:  "Check the status of the USB floppy disk controller.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		floppyAdapter, err := adapter.Find()
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to find USB adapter: %w", err))
		}
		defer floppyAdapter.Close()

		floppyAdapter.PrintStatus()

		path := settings.GetString("config")
		if path == "" {
			path, _ = config.Path()
		}
		fmt.Printf("\nConfiguration script: %s\n", path)
		fmt.Printf("Floppy Drive: %s\n", config.DriveName)
		fmt.Printf("Geometry: %d tracks, %d side(s)\n", config.Cyls, config.Heads)
		fmt.Printf("Speed: %d RPM, max %d kbps\n", config.RPM, config.MaxKBps)
		fmt.Printf("Capture: %d revolutions, %s format\n",
			captureRevs(settings.GetInt("revs"), config.Capture.Revolutions), config.Capture.Format)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
