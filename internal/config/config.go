// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ghoshika/internal/common"
	"ghoshika/internal/extract"
)

// Transport names accepted by the listen command.
const (
	TransportGmail = "gmail"
	TransportNtfy  = "ntfy"
)

// Config holds everything the listener needs. The core treats all of these
// as injected configuration; nothing is hardcoded past this point.
type Config struct {
	Transport string

	// Gmail polling transport.
	Sender          string
	Subject         string
	CredentialsFile string
	TokenFile       string
	PollInterval    time.Duration
	RefreshInterval time.Duration

	// ntfy streaming transport.
	NtfyHost       string
	NtfyTopic      string
	NtfyTitle      string
	AttachmentName string
	FetchTimeout   time.Duration

	// Extraction.
	Pattern string

	// Side effects.
	GPIOPin       int
	TTSEndpoint   string
	TTSLanguage   string
	PlayerCommand []string

	// Supervisor backoff.
	ReconnectBackoff time.Duration
	DNSBackoff       time.Duration
}

// Default returns the nominal configuration matching the deployed device.
func Default() Config {
	return Config{
		Transport:        TransportNtfy,
		Sender:           "transaction.alerts@idfcfirstbank.com",
		Subject:          "Transaction alert from IDFC FIRST Bank",
		CredentialsFile:  "~/.config/ghoshika/google_credentials.json",
		TokenFile:        "~/.config/ghoshika/google_token.json",
		PollInterval:     10 * time.Second,
		RefreshInterval:  time.Hour,
		NtfyHost:         "ntfy.sh",
		NtfyTopic:        "ghoshika",
		NtfyTitle:        "Transaction alert from IDFC FIRST Bank",
		AttachmentName:   "attachment.txt",
		FetchTimeout:     10 * time.Second,
		Pattern:          extract.DefaultPattern,
		GPIOPin:          17,
		TTSEndpoint:      "https://translate.google.com/translate_tts",
		TTSLanguage:      "en",
		PlayerCommand:    []string{"mpg123", "-q"},
		ReconnectBackoff: 5 * time.Second,
		DNSBackoff:       10 * time.Second,
	}
}

// Load builds a Config from viper, starting from defaults so a partial
// config file is fine.
func Load() (Config, error) {
	cfg := Default()

	// Empty/zero means "not configured"; flag-bound keys report IsSet even
	// when the flag was never passed, so value checks are used instead.
	setString := func(dst *string, key string) {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(dst *time.Duration, key string) {
		if v := viper.GetDuration(key); v > 0 {
			*dst = v
		}
	}

	setString(&cfg.Transport, "transport")
	setString(&cfg.Sender, "gmail.sender")
	setString(&cfg.Subject, "gmail.subject")
	setString(&cfg.CredentialsFile, "gmail.credentials_file")
	setString(&cfg.TokenFile, "gmail.token_file")
	setDuration(&cfg.PollInterval, "gmail.poll_interval")
	setDuration(&cfg.RefreshInterval, "gmail.refresh_interval")
	setString(&cfg.NtfyHost, "ntfy.host")
	setString(&cfg.NtfyTopic, "ntfy.topic")
	setString(&cfg.NtfyTitle, "ntfy.title")
	setString(&cfg.AttachmentName, "ntfy.attachment_name")
	setDuration(&cfg.FetchTimeout, "ntfy.fetch_timeout")
	setString(&cfg.Pattern, "pattern")
	if viper.IsSet("indicator.gpio_pin") {
		cfg.GPIOPin = viper.GetInt("indicator.gpio_pin")
	}
	setString(&cfg.TTSEndpoint, "speech.tts_endpoint")
	setString(&cfg.TTSLanguage, "speech.language")
	if viper.IsSet("speech.player_command") {
		cfg.PlayerCommand = viper.GetStringSlice("speech.player_command")
	}
	setDuration(&cfg.ReconnectBackoff, "backoff.reconnect")
	setDuration(&cfg.DNSBackoff, "backoff.dns")

	cfg.CredentialsFile = ExpandPath(cfg.CredentialsFile)
	cfg.TokenFile = ExpandPath(cfg.TokenFile)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields required by the selected transport.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportGmail:
		if c.Sender == "" || c.Subject == "" {
			return fmt.Errorf("%w: gmail.sender and gmail.subject are required", common.ErrInvalidConfig)
		}
		if c.CredentialsFile == "" || c.TokenFile == "" {
			return fmt.Errorf("%w: gmail.credentials_file and gmail.token_file are required", common.ErrInvalidConfig)
		}
		if c.PollInterval <= 0 {
			return fmt.Errorf("%w: gmail.poll_interval must be positive", common.ErrInvalidConfig)
		}
	case TransportNtfy:
		if c.NtfyHost == "" || c.NtfyTopic == "" {
			return fmt.Errorf("%w: ntfy.host and ntfy.topic are required", common.ErrInvalidConfig)
		}
		if c.FetchTimeout <= 0 {
			return fmt.Errorf("%w: ntfy.fetch_timeout must be positive", common.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", common.ErrInvalidConfig, c.Transport)
	}
	if c.Pattern == "" {
		return fmt.Errorf("%w: extraction pattern is required", common.ErrInvalidConfig)
	}
	if len(c.PlayerCommand) == 0 {
		return fmt.Errorf("%w: speech.player_command is required", common.ErrInvalidConfig)
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	return os.ExpandEnv(path)
}
