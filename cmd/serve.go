package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sergev/floppyflux/api"
	"github.com/sergev/floppyflux/config"
	"github.com/sergev/floppyflux/disk"
)

var (
	serveListen string
	serveSave   string
)

var serveCmd = &cobra.Command{
	Use:   "serve IMAGE",
	Short: "Serve a floppy image over HTTP",
	Long: `Decode IMAGE and serve its tracks, sectors, markers and weak bits
through the HTTP API until interrupted. With --save the edited image is
written out on shutdown.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		img, err := disk.LoadWithOptions(args[0], currentOptions())
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read %s: %w", args[0], err))
		}
		lock := disk.NewTrackingLock[*disk.Image, string](img)
		server := api.NewServer(serveListen, lock, config.PLL.WeakRun)

		errs := make(chan error, 1)
		go func() {
			errs <- server.Serve()
		}()

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-signals:
			log.Infof("received %v", sig)
			if err := server.Stop(); err != nil {
				log.Errorf("error stopping API server: %v", err)
			}
		case err := <-errs:
			cobra.CheckErr(err)
		}

		if serveSave != "" {
			guard, err := lock.Read("serve")
			if err != nil {
				cobra.CheckErr(err)
			}
			defer guard.Release()
			if err := disk.Save(serveSave, guard.Value()); err != nil {
				cobra.CheckErr(fmt.Errorf("failed to write %s: %w", serveSave, err))
			}
			fmt.Printf("Saved %s\n", serveSave)
		}
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", ":8888", "address to listen on")
	serveCmd.Flags().StringVar(&serveSave, "save", "", "image to write on shutdown")
	rootCmd.AddCommand(serveCmd)
}
