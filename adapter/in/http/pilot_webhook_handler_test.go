package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"pilot_server/core/port/in"
)

type fakeWatchService struct {
	gmailCalls   []string
	outlookCalls []*in.OutlookChange
	err          error
}

func (f *fakeWatchService) SetupWatch(ctx context.Context, connectionID int64) error { return nil }
func (f *fakeWatchService) SetupAllConnections(ctx context.Context) error            { return nil }
func (f *fakeWatchService) RenewExpiring(ctx context.Context) error                  { return nil }
func (f *fakeWatchService) StopWatch(ctx context.Context, connectionID int64) error  { return nil }

func (f *fakeWatchService) HandleGmailNotification(ctx context.Context, emailAddress string, historyID uint64) error {
	f.gmailCalls = append(f.gmailCalls, emailAddress)
	return f.err
}

func (f *fakeWatchService) HandleOutlookChange(ctx context.Context, change *in.OutlookChange) error {
	f.outlookCalls = append(f.outlookCalls, change)
	return f.err
}

func newWebhookApp(watch in.WatchService) *fiber.App {
	app := fiber.New()
	handler := NewWebhookHandler(watch, nil, 5*time.Minute)
	handler.Register(app)
	return app
}

func gmailPushBody(t *testing.T, emailAddress string, historyID uint64) []byte {
	t.Helper()

	payload, err := json.Marshal(GmailNotificationData{
		EmailAddress: emailAddress,
		HistoryID:    historyID,
	})
	if err != nil {
		t.Fatal(err)
	}

	var notification GmailPushNotification
	notification.Message.Data = base64.StdEncoding.EncodeToString(payload)
	notification.Message.MessageID = "pubsub-1"

	body, err := json.Marshal(notification)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestGmailWebhook_DecodesAndDispatches(t *testing.T) {
	watch := &fakeWatchService{}
	app := newWebhookApp(watch)

	req := httptest.NewRequest("POST", "/webhook/gmail", bytes.NewReader(gmailPushBody(t, "agent@example.com", 42)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(watch.gmailCalls) != 1 || watch.gmailCalls[0] != "agent@example.com" {
		t.Fatalf("gmail calls = %v", watch.gmailCalls)
	}
}

func TestGmailWebhook_MalformedPayloadStillAcked(t *testing.T) {
	watch := &fakeWatchService{}
	app := newWebhookApp(watch)

	req := httptest.NewRequest("POST", "/webhook/gmail", bytes.NewReader([]byte(`{"message":{"data":"not-base64!!"}}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(watch.gmailCalls) != 0 {
		t.Fatalf("expected no dispatch, got %v", watch.gmailCalls)
	}
}

func TestGmailWebhook_ServiceErrorStillAcked(t *testing.T) {
	watch := &fakeWatchService{err: io.ErrUnexpectedEOF}
	app := newWebhookApp(watch)

	req := httptest.NewRequest("POST", "/webhook/gmail", bytes.NewReader(gmailPushBody(t, "agent@example.com", 7)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestOutlookValidation_EchoesToken(t *testing.T) {
	app := newWebhookApp(&fakeWatchService{})

	req := httptest.NewRequest("GET", "/webhook/outlook?validationToken=abc123", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "abc123" {
		t.Fatalf("body = %q, want token echoed", string(body))
	}
	if ct := resp.Header.Get("Content-Type"); ct != fiber.MIMETextPlainCharsetUTF8 {
		t.Fatalf("content type = %q", ct)
	}
}

func TestOutlookWebhook_ValidationOverPost(t *testing.T) {
	watch := &fakeWatchService{}
	app := newWebhookApp(watch)

	req := httptest.NewRequest("POST", "/webhook/outlook?validationToken=tok", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "tok" {
		t.Fatalf("body = %q, want token echoed", string(body))
	}
	if len(watch.outlookCalls) != 0 {
		t.Fatal("validation request must not dispatch changes")
	}
}

func TestOutlookWebhook_DispatchesEachChange(t *testing.T) {
	watch := &fakeWatchService{}
	app := newWebhookApp(watch)

	payload := map[string]any{
		"value": []in.OutlookChange{
			{SubscriptionID: "sub-1", ChangeType: "created", Resource: "/me/messages/1"},
			{SubscriptionID: "sub-2", LifecycleEvent: "subscriptionRemoved"},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/webhook/outlook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if len(watch.outlookCalls) != 2 {
		t.Fatalf("outlook calls = %d, want 2", len(watch.outlookCalls))
	}
	if watch.outlookCalls[1].LifecycleEvent != "subscriptionRemoved" {
		t.Fatalf("lifecycle event not forwarded: %+v", watch.outlookCalls[1])
	}
}
