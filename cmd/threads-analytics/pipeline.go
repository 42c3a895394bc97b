package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ailayologylab/threads-analytics-public/pkg/backup"
	"github.com/ailayologylab/threads-analytics-public/pkg/collector"
	"github.com/ailayologylab/threads-analytics-public/pkg/config"
	"github.com/ailayologylab/threads-analytics-public/pkg/gsheets"
	"github.com/ailayologylab/threads-analytics-public/pkg/models"
	"github.com/ailayologylab/threads-analytics-public/pkg/secrets"
	"github.com/ailayologylab/threads-analytics-public/pkg/threads"
)

var (
	modeFlag  string
	limitFlag int
)

func init() {
	for _, cmd := range []*cobra.Command{syncCmd, collectCmd} {
		cmd.Flags().StringVar(&modeFlag, "mode", "normal", "Run mode: normal (new posts only), force (full history), test (bounded fetch)")
		cmd.Flags().IntVar(&limitFlag, "limit", 0, "Post cap in test mode (default 50)")
	}
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Collect posts and export them to Google Sheets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := newLogger("sync")

		env, err := buildPipeline(cmd, logger)
		if err != nil {
			return err
		}

		posts, err := env.collector.Collect(cmd.Context(), env.mode, limitFlag)
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			logger.Info("nothing to export")
			return nil
		}

		exporter, err := env.newExporter(cmd.Context(), logger)
		if err != nil {
			return err
		}
		return exporter.ExportPosts(cmd.Context(), posts)
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect posts and update the local backup, skipping Google Sheets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := newLogger("collect")

		env, err := buildPipeline(cmd, logger)
		if err != nil {
			return err
		}

		posts, err := env.collector.Collect(cmd.Context(), env.mode, limitFlag)
		if err != nil {
			return err
		}
		logger.Info("collected posts", "count", len(posts))
		return env.collector.UpdateBackup(posts)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <json-file>",
	Short: "Upload posts from a JSON file to Google Sheets, skipping collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger("export")

		cfg, err := config.Build(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		var posts []models.Post
		if err := json.Unmarshal(data, &posts); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}
		logger.Info("loaded posts from file", "path", args[0], "count", len(posts))

		creds, err := loadCredentials(cfg)
		if err != nil {
			return err
		}
		exporter, err := gsheets.NewExporter(cmd.Context(), creds.GoogleCredentials, creds.SpreadsheetID, cfg.SheetName, cfg.CSVPath(), logger)
		if err != nil {
			return err
		}
		return exporter.ExportPosts(cmd.Context(), posts)
	},
}

// pipeline bundles everything the collect and sync commands share.
type pipeline struct {
	cfg       *config.Config
	creds     *secrets.Credentials
	collector *collector.Collector
	mode      collector.Mode
}

func buildPipeline(cmd *cobra.Command, logger *log.Logger) (*pipeline, error) {
	cfg, err := config.Build(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	mode, err := collector.ParseMode(modeFlag)
	if err != nil {
		return nil, err
	}

	creds, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	client := threads.New(creds.ThreadsToken, cfg.BaseURL, cfg.RequestDelay, logger)
	store := backup.New(cfg.CSVPath(), logger)

	return &pipeline{
		cfg:       cfg,
		creds:     creds,
		collector: collector.New(client, store, cfg.DataDir, loc, logger),
		mode:      mode,
	}, nil
}

func (p *pipeline) newExporter(ctx context.Context, logger *log.Logger) (*gsheets.Exporter, error) {
	return gsheets.NewExporter(ctx, p.creds.GoogleCredentials, p.creds.SpreadsheetID, p.cfg.SheetName, p.cfg.CSVPath(), logger)
}

func loadCredentials(cfg *config.Config) (*secrets.Credentials, error) {
	store, err := secrets.Open(cfg.KeyPath, cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}
	return store.Load()
}
