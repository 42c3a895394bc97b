package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ailayologylab/threads-analytics-public/pkg/config"
	"github.com/ailayologylab/threads-analytics-public/pkg/gsheets"
	"github.com/ailayologylab/threads-analytics-public/pkg/secrets"
	"github.com/ailayologylab/threads-analytics-public/pkg/threads"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the encryption key used for credential storage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Build(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		if err := secrets.GenerateKey(cfg.KeyPath); err != nil {
			return err
		}
		fmt.Printf("Encryption key written to %s\n", cfg.KeyPath)
		fmt.Println("You can now run: threads-analytics setup")
		return nil
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Collect and encrypt the Threads and Google Sheets credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Build(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}

		store, err := secrets.Open(cfg.KeyPath, cfg.CredentialsPath)
		if err != nil {
			return fmt.Errorf("%w (run keygen first)", err)
		}

		reader := bufio.NewReader(cmd.InOrStdin())
		prompt := func(label string) (string, error) {
			fmt.Printf("%s: ", label)
			line, err := reader.ReadString('\n')
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(line), nil
		}

		fmt.Println("=== Threads Analytics Credential Setup ===")

		token, err := prompt("Threads API token")
		if err != nil {
			return err
		}
		if token == "" {
			return fmt.Errorf("threads api token cannot be empty")
		}

		spreadsheetID, err := prompt("Google spreadsheet ID")
		if err != nil {
			return err
		}
		if spreadsheetID == "" {
			return fmt.Errorf("spreadsheet id cannot be empty")
		}

		saPath, err := prompt("Path to service account JSON file")
		if err != nil {
			return err
		}
		saJSON, err := os.ReadFile(saPath)
		if err != nil {
			return fmt.Errorf("reading service account file: %w", err)
		}
		if err := secrets.ValidateServiceAccount(saJSON); err != nil {
			return err
		}

		creds := secrets.Credentials{
			ThreadsToken:      token,
			SpreadsheetID:     spreadsheetID,
			GoogleCredentials: saJSON,
		}
		if err := store.Save(creds); err != nil {
			return err
		}

		fmt.Printf("\nCredentials encrypted and stored at %s\n", cfg.CredentialsPath)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check each stored credential with a minimal API call",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := newLogger("verify")

		cfg, err := config.Build(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		creds, err := loadCredentials(cfg)
		if err != nil {
			return err
		}

		okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
		badStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")) // red
		report := func(name string, ok bool, detail string) {
			if ok {
				fmt.Println(okStyle.Render("✓ " + name + detail))
				return
			}
			fmt.Println(badStyle.Render("✗ " + name + detail))
		}

		allValid := true

		client := threads.New(creds.ThreadsToken, cfg.BaseURL, 0, logger)
		profile, err := client.Me(cmd.Context())
		if err != nil {
			logger.Debug("threads token check failed", "error", err)
			report("threads_token", false, "")
			allValid = false
		} else {
			report("threads_token", true, " (user: "+profile.Username+")")
		}

		exporter, err := gsheets.NewExporter(cmd.Context(), creds.GoogleCredentials, creds.SpreadsheetID, cfg.SheetName, cfg.CSVPath(), logger)
		if err != nil {
			logger.Debug("google credentials check failed", "error", err)
			report("google_credentials", false, "")
			report("spreadsheet_id", false, "")
			allValid = false
		} else if sp, err := exporter.Verify(cmd.Context()); err != nil {
			logger.Debug("spreadsheet check failed", "error", err)
			report("google_credentials", true, "")
			report("spreadsheet_id", false, "")
			allValid = false
		} else {
			report("google_credentials", true, "")
			title := ""
			if sp.Properties != nil {
				title = " (" + sp.Properties.Title + ")"
			}
			report("spreadsheet_id", true, title)
		}

		if !allValid {
			return fmt.Errorf("some credentials are invalid, run setup to fix them")
		}
		fmt.Println("\nAll credentials are valid")
		return nil
	},
}
