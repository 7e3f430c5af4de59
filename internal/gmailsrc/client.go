// Package gmailsrc implements the polling transport over the Gmail API:
// list unread alerts, fetch their plain-text bodies, and mark them read as
// acknowledgment.
package gmailsrc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"ghoshika/internal/auth"
	"ghoshika/internal/common"
	"ghoshika/internal/source"
)

// Source polls one Gmail inbox for alerts from a fixed sender and subject.
type Source struct {
	svc      *gmail.Service
	provider *auth.Provider
	sender   string
	subject  string
}

// New builds the Gmail client from the provider's current token.
func New(ctx context.Context, provider *auth.Provider, sender, subject string) (*Source, error) {
	s := &Source{
		provider: provider,
		sender:   sender,
		subject:  subject,
	}
	if err := s.Rebuild(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Rebuild implements source.Poller. Called after a credential refresh so
// the client picks up the new token.
func (s *Source) Rebuild(ctx context.Context) error {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(s.provider.TokenSource(ctx)))
	if err != nil {
		return fmt.Errorf("failed to build gmail client: %w", err)
	}
	s.svc = svc
	return nil
}

// Poll implements source.Poller. Each returned notification carries an Ack
// that removes the UNREAD label; ack failure is the caller's to log, and
// the item simply stays unread for the next tick.
func (s *Source) Poll(ctx context.Context) ([]source.Notification, error) {
	resp, err := s.svc.Users.Messages.List("me").Q(s.query()).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list messages: %w", err))
	}

	if len(resp.Messages) == 0 {
		return nil, nil
	}
	slog.Info("Found new transaction alert email(s)", "count", len(resp.Messages))

	notifications := make([]source.Notification, 0, len(resp.Messages))
	for _, ref := range resp.Messages {
		id := ref.Id
		msg, err := s.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		if err != nil {
			err = classify(fmt.Errorf("failed to fetch message %s: %w", id, err))
			if common.Classify(err) == common.FailureAuth {
				return notifications, err
			}
			slog.Warn("Skipping message after fetch failure", "id", id, "error", err)
			continue
		}

		body, ok := PlainTextBody(msg.Payload)
		if !ok {
			slog.Warn("No plain text body in message", "id", id)
		}

		notifications = append(notifications, source.Notification{
			Body: body,
			Ack: func(ctx context.Context) error {
				return s.markRead(ctx, id)
			},
		})
	}

	return notifications, nil
}

func (s *Source) query() string {
	return fmt.Sprintf("is:unread from:%s subject:%q in:inbox", s.sender, s.subject)
}

func (s *Source) markRead(ctx context.Context, id string) error {
	_, err := s.svc.Users.Messages.Modify("me", id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return classify(fmt.Errorf("failed to mark message %s as read: %w", id, err))
	}
	return nil
}

// classify maps Gmail API errors onto the failure taxonomy. A 401 is a
// credential invalidation signal, not a transient error.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401:
			return fmt.Errorf("%w: %v", common.ErrAuth, err)
		case apiErr.Code == 429:
			return fmt.Errorf("%w: %v", common.ErrRateLimit, err)
		}
	}
	return err
}
