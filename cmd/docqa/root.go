package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kalambet/docqa/internal/config"
	"github.com/kalambet/docqa/internal/logging"
)

var version = "dev"

var (
	noColor   bool
	appConfig config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "Ask questions about PDF documents",
	Long: `docqa uploads PDF documents to a document Q&A service and asks
questions about them.

Examples:
  docqa upload ./handbook.pdf
  docqa ask "How many vacation days do new hires get?"
  docqa chat --file ./handbook.pdf
  docqa serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}

		cfg, err := config.Load()
		if err != nil {
			// config set must stay usable to repair a bad file.
			if cmd != configSetCmd {
				return err
			}
			printWarning("current configuration is invalid: %v", err)
		}
		appConfig = cfg

		logger, closer, err := logging.Setup(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		if logCloser != nil {
			logCloser.Close()
		}
		logCloser = closer
		slog.SetDefault(logger)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the docqa version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("docqa version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
