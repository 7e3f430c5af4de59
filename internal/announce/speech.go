package announce

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"time"
)

// HTTPSpeaker renders speech by fetching synthesized audio over HTTP and
// handing the result to an external player command. The temporary audio
// artifact is always removed, success or failure.
type HTTPSpeaker struct {
	client    *http.Client
	endpoint  string
	language  string
	playerCmd []string
}

// NewHTTPSpeaker builds a speaker against a gTTS-compatible endpoint.
// playerCmd is the audio player argv; the temp file path is appended.
func NewHTTPSpeaker(endpoint, language string, playerCmd []string) *HTTPSpeaker {
	return &HTTPSpeaker{
		client:    &http.Client{Timeout: 30 * time.Second},
		endpoint:  endpoint,
		language:  language,
		playerCmd: playerCmd,
	}
}

// Speak implements Speaker. Playback blocks until the player exits or ctx
// is canceled.
func (s *HTTPSpeaker) Speak(ctx context.Context, text string) error {
	audioPath, err := s.render(ctx, text)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(audioPath); rmErr != nil {
			slog.Warn("Failed to remove temporary audio file", "path", audioPath, "error", rmErr)
		}
	}()

	return s.play(ctx, audioPath)
}

func (s *HTTPSpeaker) render(ctx context.Context, text string) (string, error) {
	q := url.Values{
		"ie":     {"UTF-8"},
		"client": {"tw-ob"},
		"tl":     {s.language},
		"q":      {text},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build speech request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch synthesized speech: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("speech endpoint returned status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp("", "ghoshika-speech-*.mp3")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary audio file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close audio file: %w", err)
	}

	return f.Name(), nil
}

func (s *HTTPSpeaker) play(ctx context.Context, path string) error {
	args := make([]string, 0, len(s.playerCmd))
	args = append(args, s.playerCmd[1:]...)
	args = append(args, path)

	cmd := exec.CommandContext(ctx, s.playerCmd[0], args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio playback failed: %w", err)
	}
	return nil
}
