package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/zenibako/scenario-sync/config"
	"github.com/zenibako/scenario-sync/logging"
)

var (
	configPath string
	logLevel   string
	assumeYes  bool

	cfg       *config.Config
	logger    = log.Default()
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "scenariosync",
	Short: "Edit remote scenarios as local files",
	Long: `scenariosync mirrors interactive-fiction scenarios from a GraphQL API into a
local directory. Each scenario gets one file per script slot plus an editable
scenario.json document.

Saving a script saves every other unsaved script of the scenario with it, so
server state never loses edits made in another file. Refresh detects server-side
changes and asks before discarding local work.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := config.New()
		if err := config.BindFlags(v, cmd.Flags(), map[string]string{
			"log.level":  "log-level",
			"mirror.dir": "dir",
		}); err != nil {
			return err
		}
		loaded, err := config.LoadWith(v, configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		l, closer, err := logging.New(logging.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			File:   cfg.Log.File,
		})
		if err != nil {
			return err
		}
		logger, logCloser = l, closer
		log.SetDefault(logger)
		if cfg.File != "" {
			logger.Debug("Loaded config", "file", cfg.File)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: scenariosync.yaml in the user config dir or cwd)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Answer yes to every confirmation")
	rootCmd.PersistentFlags().String("dir", "", "Mirror directory (overrides mirror.dir)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
