package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ghoshika/internal/announce"
	"ghoshika/internal/auth"
	"ghoshika/internal/common"
	"ghoshika/internal/config"
	"ghoshika/internal/extract"
	"ghoshika/internal/gmailsrc"
	"ghoshika/internal/ntfysrc"
	"ghoshika/internal/supervisor"
)

func listenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Watch for credit alerts and announce them",
		Long: `Watch for bank credit alerts on the configured transport and announce
each one with spoken audio and an LED blink. Runs until interrupted.`,
		RunE: runListen,
	}

	cmd.Flags().String("transport", "", "notification transport (gmail, ntfy)")
	_ = viper.BindPFlag("transport", cmd.Flags().Lookup("transport"))

	return cmd
}

func runListen(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	extractor, err := extract.New(cfg.Pattern)
	if err != nil {
		return err
	}

	indicator := announce.NewIndicator(cfg.GPIOPin)
	speaker := announce.NewHTTPSpeaker(cfg.TTSEndpoint, cfg.TTSLanguage, cfg.PlayerCommand)
	sink := announce.NewNotifier(speaker, indicator)
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			slog.Warn("Failed to release indicator", "error", closeErr)
		}
	}()

	supCfg := supervisor.DefaultConfig()
	supCfg.PollInterval = cfg.PollInterval
	supCfg.RefreshInterval = cfg.RefreshInterval
	supCfg.Backoff.Reconnect = cfg.ReconnectBackoff
	supCfg.Backoff.DNS = cfg.DNSBackoff
	sup := supervisor.New(extractor, sink, supCfg)

	switch cfg.Transport {
	case config.TransportGmail:
		return runGmail(ctx, cfg, sup)
	case config.TransportNtfy:
		return runNtfy(ctx, cfg, sup)
	default:
		return fmt.Errorf("%w: unknown transport %q", common.ErrInvalidConfig, cfg.Transport)
	}
}

func runGmail(ctx context.Context, cfg config.Config, sup *supervisor.Supervisor) error {
	provider, err := auth.NewProvider(cfg.CredentialsFile, cfg.TokenFile)
	if err != nil {
		return err
	}
	if err := provider.Load(); err != nil {
		if errors.Is(err, common.ErrTokenNotFound) {
			return common.NewUserError("no saved token; run `ghoshika auth` once to authorize Gmail access", err)
		}
		return err
	}

	src, err := gmailsrc.New(ctx, provider, cfg.Sender, cfg.Subject)
	if err != nil {
		return err
	}

	slog.Info("Starting Gmail listener",
		"sender", cfg.Sender,
		"subject", cfg.Subject,
		"poll_interval", cfg.PollInterval)
	return sup.RunPoll(ctx, src, provider)
}

func runNtfy(ctx context.Context, cfg config.Config, sup *supervisor.Supervisor) error {
	connector := ntfysrc.NewConnector(ntfysrc.Config{
		Host:           cfg.NtfyHost,
		Topic:          cfg.NtfyTopic,
		Title:          cfg.NtfyTitle,
		AttachmentName: cfg.AttachmentName,
		FetchTimeout:   cfg.FetchTimeout,
	})

	slog.Info("Starting ntfy listener",
		"url", connector.URL(),
		"title", cfg.NtfyTitle,
		"attachment", cfg.AttachmentName)
	return sup.RunStream(ctx, connector)
}
