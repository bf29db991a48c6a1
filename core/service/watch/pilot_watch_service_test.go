package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"pilot_server/core/domain"
	"pilot_server/core/port/in"
	"pilot_server/core/port/out"
)

type fakeConnections struct {
	byID      map[int64]*domain.EmailConnection
	byEmail   map[string]*domain.EmailConnection
	bySubID   map[string]*domain.EmailConnection
	connected []*domain.EmailConnection
	expiring  []*domain.EmailConnection

	watchUpdates  []*out.WatchUpdate
	backfilled    []int64
	inactive      []int64
	lastErrors    map[int64]string
	backfillError error
}

func newFakeConnections() *fakeConnections {
	return &fakeConnections{
		byID:       make(map[int64]*domain.EmailConnection),
		byEmail:    make(map[string]*domain.EmailConnection),
		bySubID:    make(map[string]*domain.EmailConnection),
		lastErrors: make(map[int64]string),
	}
}

func (f *fakeConnections) Upsert(_ context.Context, conn *domain.EmailConnection) (*domain.EmailConnection, error) {
	return conn, nil
}
func (f *fakeConnections) GetByID(_ context.Context, id int64) (*domain.EmailConnection, error) {
	return f.byID[id], nil
}
func (f *fakeConnections) GetByAgentProvider(context.Context, uuid.UUID, domain.Provider) (*domain.EmailConnection, error) {
	return nil, nil
}
func (f *fakeConnections) GetBySubscriptionID(_ context.Context, subID string) (*domain.EmailConnection, error) {
	return f.bySubID[subID], nil
}
func (f *fakeConnections) GetByAccountEmail(_ context.Context, email string) (*domain.EmailConnection, error) {
	return f.byEmail[email], nil
}
func (f *fakeConnections) ListConnected(context.Context) ([]*domain.EmailConnection, error) {
	return f.connected, nil
}
func (f *fakeConnections) ListExpiring(context.Context, time.Time) ([]*domain.EmailConnection, error) {
	return f.expiring, nil
}
func (f *fakeConnections) UpdateWatch(_ context.Context, upd *out.WatchUpdate) error {
	f.watchUpdates = append(f.watchUpdates, upd)
	return nil
}
func (f *fakeConnections) UpdateTokens(context.Context, int64, string, string, *time.Time) error {
	return nil
}
func (f *fakeConnections) SetNeedsBackfill(_ context.Context, id int64) error {
	if f.backfillError != nil {
		return f.backfillError
	}
	f.backfilled = append(f.backfilled, id)
	delete(f.lastErrors, id)
	return nil
}
func (f *fakeConnections) SetWatchInactive(_ context.Context, id int64) error {
	f.inactive = append(f.inactive, id)
	if conn := f.byID[id]; conn != nil {
		conn.WatchActive = false
	}
	return nil
}
func (f *fakeConnections) SetLastError(_ context.Context, id int64, marker string) error {
	f.lastErrors[id] = marker
	return nil
}

type fakeProvider struct {
	watchResult *out.WatchResult
	watchErr    error
	renewResult *out.WatchResult
	renewErr    error
	stopErr     error

	watchCalls int
	renewCalls int
	stopCalls  int
}

func (f *fakeProvider) Watch(context.Context, *domain.EmailConnection) (*out.WatchResult, error) {
	f.watchCalls++
	return f.watchResult, f.watchErr
}
func (f *fakeProvider) Renew(context.Context, *domain.EmailConnection) (*out.WatchResult, error) {
	f.renewCalls++
	return f.renewResult, f.renewErr
}
func (f *fakeProvider) StopWatch(context.Context, *domain.EmailConnection) error {
	f.stopCalls++
	return f.stopErr
}
func (f *fakeProvider) Send(context.Context, *domain.EmailConnection, *out.OutboundMessage) (*out.SendResult, error) {
	return nil, nil
}

type fakeProducer struct {
	jobs []*out.BackfillJob
	err  error
}

func (f *fakeProducer) PublishBackfill(_ context.Context, job *out.BackfillJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func testConn(id int64, provider domain.Provider) *domain.EmailConnection {
	return &domain.EmailConnection{
		ID:           id,
		AgentID:      uuid.New(),
		Provider:     provider,
		AccountEmail: "agent@example.com",
		Status:       domain.ConnectionConnected,
		WatchActive:  true,
	}
}

func newTestService(conns *fakeConnections, prov *fakeProvider, producer *fakeProducer) *Service {
	providers := map[domain.Provider]out.EmailProvider{
		domain.MailProviderGmail:   prov,
		domain.MailProviderOutlook: prov,
	}
	return NewService(conns, providers, producer, DefaultConfig())
}

func TestNeedsRenewal_ThresholdBoundary(t *testing.T) {
	threshold := 24 * time.Hour

	tests := []struct {
		name      string
		expiresIn time.Duration
		want      bool
	}{
		{"just inside threshold", 23*time.Hour + 59*time.Minute, true},
		{"just outside threshold", 24*time.Hour + 1*time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := testConn(1, domain.MailProviderGmail)
			conn.WatchExpiresAt = timePtr(time.Now().Add(tt.expiresIn))

			if got := conn.NeedsRenewal(threshold); got != tt.want {
				t.Errorf("NeedsRenewal = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("unknown expiration always renews", func(t *testing.T) {
		conn := testConn(1, domain.MailProviderGmail)
		conn.WatchExpiresAt = nil

		if !conn.NeedsRenewal(threshold) {
			t.Error("a watch with unknown expiration must be renewed")
		}
	})
}

func TestSetupWatch(t *testing.T) {
	conns := newFakeConnections()
	conn := testConn(1, domain.MailProviderGmail)
	conns.byID[1] = conn

	expires := time.Now().Add(7 * 24 * time.Hour)
	prov := &fakeProvider{watchResult: &out.WatchResult{SubscriptionID: "hist-42", ExpiresAt: expires}}

	s := newTestService(conns, prov, &fakeProducer{})
	if err := s.SetupWatch(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	if len(conns.watchUpdates) != 1 {
		t.Fatalf("watch updates = %d, want 1", len(conns.watchUpdates))
	}
	upd := conns.watchUpdates[0]
	if upd.SubscriptionID != "hist-42" || !upd.WatchActive {
		t.Errorf("update = %+v, want subscription hist-42 active", upd)
	}
}

func TestSetupWatch_ProviderFailureRecorded(t *testing.T) {
	conns := newFakeConnections()
	conns.byID[1] = testConn(1, domain.MailProviderGmail)
	prov := &fakeProvider{watchErr: errors.New("invalid_grant")}

	s := newTestService(conns, prov, &fakeProducer{})
	if err := s.SetupWatch(context.Background(), 1); err == nil {
		t.Fatal("expected provider error to surface")
	}

	if conns.lastErrors[1] == "" {
		t.Error("provider failure must be recorded in last_error")
	}
	if len(conns.watchUpdates) != 0 {
		t.Error("no watch update expected on failure")
	}
}

func TestRenewExpiring_FallsBackToCreate(t *testing.T) {
	conns := newFakeConnections()
	conn := testConn(1, domain.MailProviderOutlook)
	conn.WatchExpiresAt = timePtr(time.Now().Add(1 * time.Hour))
	conns.expiring = []*domain.EmailConnection{conn}

	prov := &fakeProvider{
		renewErr:    errors.New("ResourceNotFound"),
		watchResult: &out.WatchResult{SubscriptionID: "sub-new", ClientState: "cs", ExpiresAt: time.Now().Add(71 * time.Hour)},
	}

	s := newTestService(conns, prov, &fakeProducer{})
	if err := s.RenewExpiring(context.Background()); err != nil {
		t.Fatal(err)
	}

	if prov.renewCalls != 1 || prov.watchCalls != 1 {
		t.Errorf("renew calls = %d watch calls = %d, want 1 and 1", prov.renewCalls, prov.watchCalls)
	}
	if len(conns.watchUpdates) != 1 || conns.watchUpdates[0].SubscriptionID != "sub-new" {
		t.Errorf("expected a single update with the recreated subscription, got %+v", conns.watchUpdates)
	}
}

func TestRenewExpiring_BothPathsFailMarksInactive(t *testing.T) {
	conns := newFakeConnections()
	conn := testConn(1, domain.MailProviderOutlook)
	conn.WatchExpiresAt = timePtr(time.Now().Add(1 * time.Hour))
	conns.byID[1] = conn
	conns.expiring = []*domain.EmailConnection{conn}

	prov := &fakeProvider{
		renewErr: errors.New("ResourceNotFound"),
		watchErr: errors.New("invalid_grant"),
	}

	s := newTestService(conns, prov, &fakeProducer{})
	if err := s.RenewExpiring(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(conns.inactive) != 1 {
		t.Error("connection must be marked inactive when renew and recreate both fail")
	}
	if conns.lastErrors[1] == "" {
		t.Error("failure must be recorded in last_error")
	}
}

func TestRenewExpiring_SkipsConnectionsOutsideThreshold(t *testing.T) {
	conns := newFakeConnections()
	conn := testConn(1, domain.MailProviderGmail)
	conn.WatchExpiresAt = timePtr(time.Now().Add(48 * time.Hour))
	conns.expiring = []*domain.EmailConnection{conn}

	prov := &fakeProvider{}
	s := newTestService(conns, prov, &fakeProducer{})
	if err := s.RenewExpiring(context.Background()); err != nil {
		t.Fatal(err)
	}

	if prov.renewCalls != 0 {
		t.Error("connection outside the renewal threshold must not be touched")
	}
}

func TestStopWatch_ProviderFailureStillDeactivates(t *testing.T) {
	conns := newFakeConnections()
	conns.byID[1] = testConn(1, domain.MailProviderGmail)
	prov := &fakeProvider{stopErr: errors.New("already gone")}

	s := newTestService(conns, prov, &fakeProducer{})
	if err := s.StopWatch(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	if len(conns.inactive) != 1 {
		t.Error("local record must be deactivated even when the provider call fails")
	}
}

func TestHandleGmailNotification(t *testing.T) {
	conns := newFakeConnections()
	conn := testConn(1, domain.MailProviderGmail)
	conns.byEmail["agent@example.com"] = conn
	producer := &fakeProducer{}

	s := newTestService(conns, &fakeProvider{}, producer)
	if err := s.HandleGmailNotification(context.Background(), "agent@example.com", 99421); err != nil {
		t.Fatal(err)
	}

	if len(conns.backfilled) != 1 || conns.backfilled[0] != 1 {
		t.Error("notification must flag the connection for backfill")
	}
	if len(producer.jobs) != 1 || producer.jobs[0].Provider != "google" {
		t.Errorf("expected one gmail backfill job, got %+v", producer.jobs)
	}
}

func TestHandleGmailNotification_UnknownMailboxDropped(t *testing.T) {
	conns := newFakeConnections()
	s := newTestService(conns, &fakeProvider{}, &fakeProducer{})

	if err := s.HandleGmailNotification(context.Background(), "stranger@example.com", 1); err != nil {
		t.Fatalf("unknown mailbox must be dropped without error: %v", err)
	}
	if len(conns.backfilled) != 0 {
		t.Error("no backfill expected for an unknown mailbox")
	}
}

func TestHandleGmailNotification_PublishFailureIsBestEffort(t *testing.T) {
	conns := newFakeConnections()
	conns.byEmail["agent@example.com"] = testConn(1, domain.MailProviderGmail)

	s := newTestService(conns, &fakeProvider{}, &fakeProducer{err: errors.New("stream down")})
	if err := s.HandleGmailNotification(context.Background(), "agent@example.com", 1); err != nil {
		t.Fatalf("publish failure must not surface: %v", err)
	}
	if len(conns.backfilled) != 1 {
		t.Error("needs_backfill flag must persist regardless of the publish")
	}
}

func TestHandleOutlookChange_ClientStateMismatch(t *testing.T) {
	conns := newFakeConnections()
	conn := testConn(1, domain.MailProviderOutlook)
	conn.ClientState = strPtr("real-secret")
	conns.bySubID["sub-1"] = conn

	s := newTestService(conns, &fakeProvider{}, &fakeProducer{})
	err := s.HandleOutlookChange(context.Background(), &in.OutlookChange{
		SubscriptionID: "sub-1",
		ClientState:    "forged-secret",
		ChangeType:     "created",
	})
	if err != nil {
		t.Fatalf("mismatch must still be acknowledged: %v", err)
	}

	if conns.lastErrors[1] != domain.ErrInvalidClientState {
		t.Errorf("last_error = %q, want %q", conns.lastErrors[1], domain.ErrInvalidClientState)
	}
	if !conn.WatchActive {
		t.Error("a clientState mismatch must not deactivate the watch")
	}
	if len(conns.backfilled) != 0 {
		t.Error("spoofed notification must not trigger backfill")
	}
}

func TestHandleOutlookChange_ValidNotification(t *testing.T) {
	conns := newFakeConnections()
	conn := testConn(1, domain.MailProviderOutlook)
	conn.ClientState = strPtr("real-secret")
	conns.bySubID["sub-1"] = conn
	producer := &fakeProducer{}

	s := newTestService(conns, &fakeProvider{}, producer)
	err := s.HandleOutlookChange(context.Background(), &in.OutlookChange{
		SubscriptionID: "sub-1",
		ClientState:    "real-secret",
		ChangeType:     "created",
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(conns.backfilled) != 1 {
		t.Error("valid notification must flag backfill")
	}
	if len(producer.jobs) != 1 {
		t.Error("valid notification must publish a backfill job")
	}
}

func TestHandleOutlookChange_LifecycleEvents(t *testing.T) {
	t.Run("subscriptionRemoved deactivates and marks", func(t *testing.T) {
		conns := newFakeConnections()
		conn := testConn(1, domain.MailProviderOutlook)
		conns.byID[1] = conn
		conns.bySubID["sub-1"] = conn

		s := newTestService(conns, &fakeProvider{}, &fakeProducer{})
		err := s.HandleOutlookChange(context.Background(), &in.OutlookChange{
			SubscriptionID: "sub-1",
			LifecycleEvent: "subscriptionRemoved",
		})
		if err != nil {
			t.Fatal(err)
		}

		if len(conns.inactive) != 1 {
			t.Error("subscriptionRemoved must deactivate the watch")
		}
		if conns.lastErrors[1] != domain.ErrSubscriptionRemoved {
			t.Errorf("last_error = %q, want %q", conns.lastErrors[1], domain.ErrSubscriptionRemoved)
		}
	})

	t.Run("reauthorizationRequired flags backfill and marks", func(t *testing.T) {
		conns := newFakeConnections()
		conn := testConn(1, domain.MailProviderOutlook)
		conns.bySubID["sub-1"] = conn

		producer := &fakeProducer{}
		s := newTestService(conns, &fakeProvider{}, producer)
		err := s.HandleOutlookChange(context.Background(), &in.OutlookChange{
			SubscriptionID: "sub-1",
			LifecycleEvent: "reauthorizationRequired",
		})
		if err != nil {
			t.Fatal(err)
		}

		if len(conns.backfilled) != 1 || conns.backfilled[0] != 1 {
			t.Errorf("backfilled = %v, want connection 1 flagged for catch-up", conns.backfilled)
		}
		if conns.lastErrors[1] != domain.ErrReauthRequired {
			t.Errorf("last_error = %q, want %q", conns.lastErrors[1], domain.ErrReauthRequired)
		}
		if len(producer.jobs) != 1 {
			t.Errorf("backfill jobs = %d, want 1", len(producer.jobs))
		}
		if len(conns.inactive) != 0 {
			t.Error("reauthorizationRequired must not deactivate the watch")
		}
	})

	t.Run("missed flags backfill", func(t *testing.T) {
		conns := newFakeConnections()
		conn := testConn(1, domain.MailProviderOutlook)
		conns.bySubID["sub-1"] = conn

		s := newTestService(conns, &fakeProvider{}, &fakeProducer{})
		err := s.HandleOutlookChange(context.Background(), &in.OutlookChange{
			SubscriptionID: "sub-1",
			LifecycleEvent: "missed",
		})
		if err != nil {
			t.Fatal(err)
		}

		if len(conns.backfilled) != 1 {
			t.Error("missed notifications must trigger a backfill")
		}
	})
}

func TestHandleOutlookChange_UnknownSubscriptionDropped(t *testing.T) {
	conns := newFakeConnections()
	s := newTestService(conns, &fakeProvider{}, &fakeProducer{})

	err := s.HandleOutlookChange(context.Background(), &in.OutlookChange{SubscriptionID: "nope"})
	if err != nil {
		t.Fatalf("unknown subscription must be dropped without error: %v", err)
	}
}
