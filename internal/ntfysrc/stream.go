// Package ntfysrc implements the streaming transport: a websocket
// subscription to an ntfy topic whose matching messages carry the alert
// text as a named attachment.
package ntfysrc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ghoshika/internal/source"
)

// Config holds the streaming transport settings.
type Config struct {
	// Host is the ntfy server, e.g. "ntfy.sh". A ws:// or wss:// prefix
	// overrides the derived websocket URL (used by tests and self-hosted
	// plain-HTTP servers).
	Host string
	// Topic is the subscription topic.
	Topic string
	// Title filters envelopes to the expected notification title.
	Title string
	// AttachmentName is the attachment the alert text arrives in.
	AttachmentName string
	// FetchTimeout bounds one attachment download.
	FetchTimeout time.Duration
}

// Connector dials the topic's websocket endpoint. It holds no connection
// state; each Connect returns an independent Stream and retry policy stays
// with the supervisor.
type Connector struct {
	dialer *websocket.Dialer
	client *http.Client
	cfg    Config
}

// NewConnector builds the streaming transport.
func NewConnector(cfg Config) *Connector {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &Connector{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		client: &http.Client{Timeout: cfg.FetchTimeout},
	}
}

// URL returns the websocket endpoint for the configured topic.
func (c *Connector) URL() string {
	if strings.HasPrefix(c.cfg.Host, "ws://") || strings.HasPrefix(c.cfg.Host, "wss://") {
		return fmt.Sprintf("%s/%s/ws", c.cfg.Host, c.cfg.Topic)
	}
	return fmt.Sprintf("wss://%s/%s/ws", c.cfg.Host, c.cfg.Topic)
}

// Connect implements source.Connector.
func (c *Connector) Connect(ctx context.Context) (source.Stream, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.URL(), err)
	}
	slog.Info("Connected to ntfy topic", "url", c.URL())

	s := &stream{
		conn:   conn,
		client: c.client,
		cfg:    c.cfg,
		done:   make(chan struct{}),
	}
	// Reads have no native cancellation; closing the connection unblocks
	// ReadMessage when the context ends.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// envelope is one frame from the ntfy websocket feed.
type envelope struct {
	Event      string      `json:"event"`
	Title      string      `json:"title"`
	Attachment *attachment `json:"attachment"`
}

type attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type stream struct {
	conn   *websocket.Conn
	client *http.Client
	cfg    Config
	done   chan struct{}
}

// Next implements source.Stream. Frames that do not carry a matching
// alert, and attachments that fail to download, are logged and skipped;
// only connection loss ends the sequence.
func (s *stream) Next(ctx context.Context) (string, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("websocket read failed: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("Discarding undecodable frame", "error", err)
			continue
		}

		if env.Event != "message" || env.Title != s.cfg.Title {
			continue
		}
		if env.Attachment == nil || env.Attachment.Name != s.cfg.AttachmentName {
			slog.Warn("Matching title but no expected attachment", "title", env.Title)
			continue
		}

		fetchURL, err := s.resolveURL(env.Attachment.URL)
		if err != nil {
			slog.Warn("Skipping attachment with unusable URL", "url", env.Attachment.URL, "error", err)
			continue
		}

		text, err := s.fetch(ctx, fetchURL)
		if err != nil {
			slog.Warn("Failed to fetch attachment", "url", fetchURL, "error", err)
			continue
		}
		return text, nil
	}
}

// resolveURL handles both fully-qualified and root-relative attachment
// references.
func (s *stream) resolveURL(ref string) (string, error) {
	switch {
	case ref == "":
		return "", fmt.Errorf("attachment has no URL")
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref, nil
	case strings.HasPrefix(ref, "/"):
		return "https://" + s.cfg.Host + ref, nil
	default:
		return "", fmt.Errorf("malformed attachment URL %q", ref)
	}
}

func (s *stream) fetch(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("attachment fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Close implements source.Stream.
func (s *stream) Close() error {
	close(s.done)
	return s.conn.Close()
}
