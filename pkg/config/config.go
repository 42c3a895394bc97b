package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all runtime settings. Values are layered: defaults, then the
// config file, then THREADS_* environment variables, then command-line flags.
type Config struct {
	DataDir         string
	KeyPath         string
	CredentialsPath string
	SheetName       string
	Timezone        string
	BaseURL         string
	RequestDelay    time.Duration
	Debug           bool
}

// Build loads the configuration. cfgFile overrides the default config.yaml
// lookup; flags, when non-nil, take precedence over everything else.
func Build(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// .env is optional
	_ = gotenv.Load()

	v := viper.New()
	v.SetDefault("data_dir", "data")
	v.SetDefault("key_path", filepath.Join("secure", "keys", "crypto.key"))
	v.SetDefault("credentials_path", filepath.Join("secure", "credentials.enc"))
	v.SetDefault("sheet_name", "threads_data")
	v.SetDefault("timezone", "Asia/Taipei")
	v.SetDefault("base_url", "https://graph.threads.net/v1.0")
	v.SetDefault("request_delay", 500*time.Millisecond)
	v.SetDefault("debug", false)

	v.SetEnvPrefix("THREADS")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	cfg := &Config{
		DataDir:         v.GetString("data_dir"),
		KeyPath:         v.GetString("key_path"),
		CredentialsPath: v.GetString("credentials_path"),
		SheetName:       v.GetString("sheet_name"),
		Timezone:        v.GetString("timezone"),
		BaseURL:         v.GetString("base_url"),
		RequestDelay:    v.GetDuration("request_delay"),
		Debug:           v.GetBool("debug"),
	}
	return cfg, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// JSONPath is where the collector writes the latest batch of posts.
func (c *Config) JSONPath() string {
	return filepath.Join(c.DataDir, "posts.json")
}

// CSVPath is the local CSV backup mirroring the worksheet.
func (c *Config) CSVPath() string {
	return filepath.Join(c.DataDir, "threads_data.csv")
}
