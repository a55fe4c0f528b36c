package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qrave1/LiveClass/internal/application/config"
)

// debugFlag перекрывает DEBUG из окружения
var debugFlag bool

var rootCmd = &cobra.Command{
	Use:           "liveclass",
	Short:         "LiveClass joins live classroom sessions and exposes a local control API.",
	Long:          "Without a subcommand LiveClass serves the control API. Configuration comes from the environment.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		runApp()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
}

// loadConfig читает окружение и настраивает логгер под итоговый уровень
func loadConfig() (*config.Config, error) {
	setupLogger(debugFlag)

	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Debug = cfg.Debug || debugFlag
	setupLogger(cfg.Debug)

	return cfg, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
