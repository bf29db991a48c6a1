// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"
	"pilot_server/pkg/apperr"
	"pilot_server/pkg/logger"
)

// GmailConfig holds Gmail configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	ProjectID    string
}

// GmailAdapter implements out.EmailProvider for Gmail. Push notifications
// arrive through a Pub/Sub topic; the subscription id we track is the
// history id returned by the watch call.
type GmailAdapter struct {
	config    *oauth2.Config
	topicName string
	cb        *gobreaker.CircuitBreaker
	log       *logger.Logger
}

// NewGmailAdapter creates a new Gmail adapter.
func NewGmailAdapter(cfg *GmailConfig) *GmailAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailSendScope,
		},
		Endpoint: google.Endpoint,
	}

	log := logger.WithField("component", "gmail_adapter")

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &GmailAdapter{
		config:    config,
		topicName: fmt.Sprintf("projects/%s/topics/gmail-push", cfg.ProjectID),
		cb:        gobreaker.NewCircuitBreaker(cbSettings),
		log:       log,
	}
}

// Watch sets up push notifications for the mailbox inbox.
func (a *GmailAdapter) Watch(ctx context.Context, conn *domain.EmailConnection) (*out.WatchResult, error) {
	svc, err := a.getService(ctx, conn)
	if err != nil {
		return nil, err
	}

	req := &gmail.WatchRequest{
		TopicName: a.topicName,
		LabelIds:  []string{"INBOX"},
	}

	var resp *gmail.WatchResponse
	cbErr := a.executeWithCircuitBreaker("Watch", func() error {
		var apiErr error
		resp, apiErr = svc.Users.Watch("me", req).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to setup watch")
	}

	return &out.WatchResult{
		SubscriptionID: fmt.Sprintf("%d", resp.HistoryId),
		ExpiresAt:      time.Unix(0, resp.Expiration*int64(time.Millisecond)),
	}, nil
}

// Renew re-issues the watch. Gmail has no renewal call; a fresh watch on
// the same topic replaces the previous one.
func (a *GmailAdapter) Renew(ctx context.Context, conn *domain.EmailConnection) (*out.WatchResult, error) {
	return a.Watch(ctx, conn)
}

// StopWatch stops push notifications for the mailbox.
func (a *GmailAdapter) StopWatch(ctx context.Context, conn *domain.EmailConnection) error {
	svc, err := a.getService(ctx, conn)
	if err != nil {
		return err
	}

	if err := svc.Users.Stop("me").Context(ctx).Do(); err != nil {
		return a.wrapError(err, "failed to stop watch")
	}
	return nil
}

// Send transmits one outbound message.
func (a *GmailAdapter) Send(ctx context.Context, conn *domain.EmailConnection, msg *out.OutboundMessage) (*out.SendResult, error) {
	svc, err := a.getService(ctx, conn)
	if err != nil {
		return nil, err
	}

	raw := msg.RawMIME
	if len(raw) == 0 {
		raw = []byte(a.buildRawMessage(msg))
	}

	gmailMsg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: msg.ThreadID,
	}

	var sent *gmail.Message
	cbErr := a.executeWithCircuitBreaker("Send", func() error {
		var apiErr error
		sent, apiErr = svc.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to send message")
	}

	return &out.SendResult{
		ProviderMessageID: sent.Id,
		ThreadID:          sent.ThreadId,
	}, nil
}

func (a *GmailAdapter) getService(ctx context.Context, conn *domain.EmailConnection) (*gmail.Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	token := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
	}
	if conn.TokenExpiry != nil {
		token.Expiry = *conn.TokenExpiry
	}

	return gmail.NewService(ctx, option.WithTokenSource(
		a.config.TokenSource(ctx, token),
	))
}

// executeWithCircuitBreaker wraps an API call with circuit breaker
// protection. Client errors must not trip the breaker.
func (a *GmailAdapter) executeWithCircuitBreaker(operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 429, 500, 502, 503:
					return nil, err
				case 400, 401, 403, 404:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}

	if err != nil {
		a.log.WithError(err).WithFields(map[string]any{
			"operation": operation,
			"state":     a.cb.State().String(),
		}).Error("gmail API call failed")
	}

	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func (a *GmailAdapter) buildRawMessage(msg *out.OutboundMessage) string {
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)

	return buf.String()
}

func (a *GmailAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}

	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 429:
			return apperr.RateLimited("gmail")
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") {
				return apperr.RateLimited("gmail")
			}
		}
	}

	return apperr.ProviderError("gmail", err).WithDetail("message", defaultMsg)
}

// Ensure GmailAdapter implements out.EmailProvider
var _ out.EmailProvider = (*GmailAdapter)(nil)
