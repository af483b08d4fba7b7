package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/docqa/internal/config"
	"github.com/kalambet/docqa/internal/ollama"
	"github.com/kalambet/docqa/internal/session"
)

var (
	errUploadFailed = errors.New("upload failed")
	errQueryFailed  = errors.New("query failed")
)

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload a PDF to the document service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := session.LoadDocument(args[0])
		if err != nil {
			return err
		}

		ctl := newSession()
		defer ctl.Close()

		r := renderer{out: cmd.OutOrStdout()}
		unsubscribe := ctl.Subscribe(r.render)
		defer unsubscribe()

		if err := ctl.SelectDocument(doc); err != nil {
			return err
		}
		ctl.SubmitUpload()
		ctl.Wait()

		if ctl.Snapshot().Upload.Status != session.UploadSucceeded {
			return errUploadFailed
		}
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the uploaded documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		ctl := newSession()
		defer ctl.Close()

		r := renderer{out: cmd.OutOrStdout()}
		unsubscribe := ctl.Subscribe(r.render)
		defer unsubscribe()

		if !ctl.SubmitQuery(question) {
			return fmt.Errorf("question must not be empty")
		}
		ctl.Wait()

		if last, ok := ctl.Snapshot().LastTurn(); ok && last.Failed {
			return errQueryFailed
		}
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show document service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context(), appConfig)
	},
}

func showStatus(ctx context.Context, cfg config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	client := newBackend(cfg.Service)
	if err := client.Health(ctx); err != nil {
		printStatus("Service", "not reachable at %s (%v)", client.BaseURL(), err)
	} else {
		printStatus("Service", "running at %s", client.BaseURL())
	}

	oc := ollama.New(cfg.Ollama.BaseURL, cfg.Ollama.Model)
	if oc.Reachable(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}
	printStatus("Model", "%s", cfg.Ollama.Model)
	printStatus("Stub data dir", "%s", cfg.Stub.DataDir)
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("  %s %s\n", boldColor.Sprint("file:"), config.FilePath())
		for _, k := range config.ShowAll(appConfig) {
			cmd.Printf("  %s = %s\n", boldColor.Sprint(k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if !slices.Contains(config.ValidKeys(), key) {
			return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(config.ValidKeys(), ", "))
		}
		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
