package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"
	"pilot_server/pkg/apperr"
	"pilot_server/pkg/logger"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// Graph caps mail subscriptions at roughly three days; we ask for the
// maximum and let the renewal sweep keep it alive.
const graphSubscriptionMinutes = 4230

// OutlookConfig holds Outlook configuration.
type OutlookConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TenantID     string
	WebhookURL   string
}

// OutlookAdapter implements out.EmailProvider for Microsoft Outlook via
// the Graph API.
type OutlookAdapter struct {
	config     *oauth2.Config
	webhookURL string
	log        *logger.Logger
}

// NewOutlookAdapter creates a new Outlook adapter.
func NewOutlookAdapter(cfg *OutlookConfig) *OutlookAdapter {
	tenantID := cfg.TenantID
	if tenantID == "" {
		tenantID = "common"
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			"https://graph.microsoft.com/Mail.ReadWrite",
			"https://graph.microsoft.com/Mail.Send",
			"https://graph.microsoft.com/User.Read",
			"offline_access",
		},
		Endpoint: microsoft.AzureADEndpoint(tenantID),
	}

	return &OutlookAdapter{
		config:     config,
		webhookURL: cfg.WebhookURL,
		log:        logger.WithField("component", "outlook_adapter"),
	}
}

// graphSubscription is the Graph subscription resource.
type graphSubscription struct {
	ID                 string `json:"id,omitempty"`
	ChangeType         string `json:"changeType"`
	NotificationURL    string `json:"notificationUrl"`
	Resource           string `json:"resource"`
	ExpirationDateTime string `json:"expirationDateTime"`
	ClientState        string `json:"clientState"`
}

// Watch creates a Graph subscription on the inbox. A fresh clientState
// secret is generated per subscription and verified on every notification.
func (a *OutlookAdapter) Watch(ctx context.Context, conn *domain.EmailConnection) (*out.WatchResult, error) {
	client := a.getClient(ctx, conn)

	expiresAt := time.Now().UTC().Add(graphSubscriptionMinutes * time.Minute)
	sub := &graphSubscription{
		ChangeType:         "created",
		NotificationURL:    a.webhookURL,
		Resource:           "/me/mailFolders('inbox')/messages",
		ExpirationDateTime: expiresAt.Format(time.RFC3339),
		ClientState:        uuid.NewString(),
	}

	var created graphSubscription
	if err := a.doPost(client, graphBaseURL+"/subscriptions", sub, &created); err != nil {
		return nil, err
	}

	return &out.WatchResult{
		SubscriptionID: created.ID,
		ClientState:    sub.ClientState,
		ExpiresAt:      expiresAt,
	}, nil
}

// Renew extends an existing subscription. The clientState is immutable on
// Graph, so the stored secret stays valid.
func (a *OutlookAdapter) Renew(ctx context.Context, conn *domain.EmailConnection) (*out.WatchResult, error) {
	if conn.SubscriptionID == nil {
		return nil, apperr.ProviderError("outlook", fmt.Errorf("connection %d has no subscription to renew", conn.ID))
	}

	client := a.getClient(ctx, conn)

	expiresAt := time.Now().UTC().Add(graphSubscriptionMinutes * time.Minute)
	body := map[string]string{
		"expirationDateTime": expiresAt.Format(time.RFC3339),
	}

	if err := a.doPatch(client, graphBaseURL+"/subscriptions/"+*conn.SubscriptionID, body); err != nil {
		return nil, err
	}

	result := &out.WatchResult{
		SubscriptionID: *conn.SubscriptionID,
		ExpiresAt:      expiresAt,
	}
	if conn.ClientState != nil {
		result.ClientState = *conn.ClientState
	}
	return result, nil
}

// StopWatch deletes the Graph subscription.
func (a *OutlookAdapter) StopWatch(ctx context.Context, conn *domain.EmailConnection) error {
	if conn.SubscriptionID == nil {
		return nil
	}

	client := a.getClient(ctx, conn)
	return a.doDelete(client, graphBaseURL+"/subscriptions/"+*conn.SubscriptionID)
}

// graphMessage is the subset of the Graph message resource we write.
type graphMessage struct {
	ID      string `json:"id,omitempty"`
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ToRecipients []graphRecipient `json:"toRecipients"`
}

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

// Send creates a draft first and then submits it: unlike sendMail, this
// two-step flow returns the message id for correlation.
func (a *OutlookAdapter) Send(ctx context.Context, conn *domain.EmailConnection, msg *out.OutboundMessage) (*out.SendResult, error) {
	client := a.getClient(ctx, conn)

	draft := &graphMessage{Subject: msg.Subject}
	draft.Body.ContentType = "Text"
	draft.Body.Content = msg.Body

	var recipient graphRecipient
	recipient.EmailAddress.Address = msg.To
	draft.ToRecipients = []graphRecipient{recipient}

	var created graphMessage
	if err := a.doPost(client, graphBaseURL+"/me/messages", draft, &created); err != nil {
		return nil, err
	}

	if err := a.doPost(client, graphBaseURL+"/me/messages/"+created.ID+"/send", nil, nil); err != nil {
		return nil, err
	}

	return &out.SendResult{
		ProviderMessageID: created.ID,
		ThreadID:          msg.ThreadID,
	}, nil
}

func (a *OutlookAdapter) getClient(ctx context.Context, conn *domain.EmailConnection) *http.Client {
	token := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
	}
	if conn.TokenExpiry != nil {
		token.Expiry = *conn.TokenExpiry
	}
	return a.config.Client(ctx, token)
}

func (a *OutlookAdapter) doPost(client *http.Client, url string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest("POST", url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return apperr.ProviderError("outlook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return a.wrapHTTPError(resp.StatusCode, string(respBody))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (a *OutlookAdapter) doPatch(client *http.Client, url string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("PATCH", url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return apperr.ProviderError("outlook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return a.wrapHTTPError(resp.StatusCode, string(respBody))
	}

	return nil
}

func (a *OutlookAdapter) doDelete(client *http.Client, url string) error {
	req, err := http.NewRequest("DELETE", url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return apperr.ProviderError("outlook", err)
	}
	defer resp.Body.Close()

	// A missing subscription is already the desired end state.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		respBody, _ := io.ReadAll(resp.Body)
		return a.wrapHTTPError(resp.StatusCode, string(respBody))
	}

	return nil
}

func (a *OutlookAdapter) wrapHTTPError(status int, body string) error {
	if status == http.StatusTooManyRequests {
		return apperr.RateLimited("outlook")
	}
	return apperr.ProviderError("outlook", fmt.Errorf("graph API returned %d: %s", status, body))
}

// Ensure OutlookAdapter implements out.EmailProvider
var _ out.EmailProvider = (*OutlookAdapter)(nil)
