package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pevans/flatwatch/config"
	"github.com/pevans/flatwatch/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errSilent marks failures that have already been reported to the user.
var errSilent = errors.New("")

// app holds the state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	sitesDir   string
	dataDir    string

	settings  *config.Settings
	logger    *zap.Logger
	logCloser io.Closer
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	settings, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if a.sitesDir != "" {
		settings.SitesDir = a.sitesDir
	}
	if a.dataDir != "" {
		settings.DataDir = a.dataDir
	}
	if a.logLevel != "" {
		settings.LogLevel = a.logLevel
	}

	logger, closer, err := logging.New(logging.Options{Level: settings.LogLevel, File: settings.LogFile})
	if err != nil {
		return err
	}

	a.settings = settings
	a.logger = logger
	a.logCloser = closer
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:               "flatwatch",
		Short:             "Watch apartment listing sites and email new flats",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.flatwatch/config.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.sitesDir, "sites-dir", "", "directory of site configuration files")
	flags.StringVar(&a.dataDir, "data-dir", "", "directory for listing data and run history")

	root.AddCommand(
		newScrapeCmd(a),
		newServeCmd(a),
		newSitesCmd(a),
		newVersionCmd(),
	)

	return root
}

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()

	if err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
