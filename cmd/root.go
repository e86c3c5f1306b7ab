package cmd

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sergev/floppyflux/config"
	"github.com/sergev/floppyflux/kryoflux"
)

// Environment variables override flags of the same name with this prefix,
// e.g. FLOPPYFLUX_LOG_LEVEL.
const envPrefix = "FLOPPYFLUX"

var settings = viper.New()

var rootCmd = &cobra.Command{
	Use:   "floppyflux",
	Short: "A CLI program which decodes and inspects floppy flux images",
	Long: `The floppyflux tool captures floppy disks via USB adapter and decodes
flux images (SCP) and bitstream images (HFE) into tracks and sectors.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(settings.GetString("log-level"), settings.GetString("log-format")); err != nil {
			return err
		}
		var err error
		if path := settings.GetString("config"); path != "" {
			err = config.InitializeFrom(path)
		} else {
			err = config.Initialize()
		}
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		kryoflux.FirmwarePath = config.Capture.KryoFluxFirmware
		return nil
	},
}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags())
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	cobra.CheckErr(settings.BindPFlags(rootCmd.PersistentFlags()))
}

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "configuration file (default ~/.floppyflux)")
	flags.String("log-level", "info", "log level: panic, fatal, error, warn, info, debug, trace")
	flags.String("log-format", "text", "log format: text or json")
	flags.Float64("clock", 0, "bitcell clock in microseconds, 0 for auto")
	flags.Int("revs", 0, "revolutions to capture, 0 for the configured count")
}

// setupLogging configures the standard logrus logger. An empty level
// keeps the current one.
func setupLogging(level, format string) error {
	log.SetOutput(os.Stderr)
	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{})
	default:
		return fmt.Errorf("invalid log format %q; valid formats are: text, json", format)
	}
	if level == "" {
		return nil
	}
	l, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q; valid levels are: panic, "+
			"fatal, error, warn, info, debug, trace", level)
	}
	log.SetLevel(l)
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
