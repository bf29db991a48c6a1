package watch

import (
	"context"
	"time"

	"pilot_server/core/domain"
	"pilot_server/core/port/in"
	"pilot_server/core/port/out"
	"pilot_server/pkg/apperr"
	"pilot_server/pkg/logger"
)

// Config holds the watch renewal knobs.
type Config struct {
	RenewThreshold time.Duration // renew when less than this remains
}

func DefaultConfig() Config {
	return Config{
		RenewThreshold: 24 * time.Hour,
	}
}

// Service keeps provider push subscriptions alive and turns notifications
// into backfill flags. It never fetches mail itself.
type Service struct {
	connections out.ConnectionRepository
	providers   map[domain.Provider]out.EmailProvider
	producer    out.MessageProducer
	cfg         Config
	log         *logger.Logger
}

func NewService(
	connections out.ConnectionRepository,
	providers map[domain.Provider]out.EmailProvider,
	producer out.MessageProducer,
	cfg Config,
) *Service {
	if cfg.RenewThreshold <= 0 {
		cfg.RenewThreshold = 24 * time.Hour
	}
	return &Service{
		connections: connections,
		providers:   providers,
		producer:    producer,
		cfg:         cfg,
		log:         logger.WithField("component", "watch"),
	}
}

func (s *Service) provider(p domain.Provider) (out.EmailProvider, error) {
	prov, ok := s.providers[p]
	if !ok {
		return nil, apperr.ConfigError("no provider registered for " + string(p))
	}
	return prov, nil
}

// SetupWatch creates or replaces the push subscription for one connection.
func (s *Service) SetupWatch(ctx context.Context, connectionID int64) error {
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		return apperr.NotFound("connection")
	}
	return s.createWatch(ctx, conn)
}

func (s *Service) createWatch(ctx context.Context, conn *domain.EmailConnection) error {
	prov, err := s.provider(conn.Provider)
	if err != nil {
		return err
	}

	result, err := prov.Watch(ctx, conn)
	if err != nil {
		s.log.WithError(err).WithFields(map[string]any{
			"connection_id": conn.ID,
			"provider":      conn.Provider,
		}).Error("failed to create watch subscription")
		if markErr := s.connections.SetLastError(ctx, conn.ID, err.Error()); markErr != nil {
			s.log.WithError(markErr).Error("failed to record watch error")
		}
		return err
	}

	if err := s.connections.UpdateWatch(ctx, &out.WatchUpdate{
		ConnectionID:   conn.ID,
		SubscriptionID: result.SubscriptionID,
		ClientState:    result.ClientState,
		ExpiresAt:      result.ExpiresAt,
		WatchActive:    true,
	}); err != nil {
		return err
	}

	s.log.WithFields(map[string]any{
		"connection_id": conn.ID,
		"provider":      conn.Provider,
		"expires_at":    result.ExpiresAt,
	}).Info("watch subscription created")
	return nil
}

// SetupAllConnections ensures every connected mailbox has a live watch.
// Per-connection failures are logged and do not stop the sweep.
func (s *Service) SetupAllConnections(ctx context.Context) error {
	conns, err := s.connections.ListConnected(ctx)
	if err != nil {
		return err
	}

	for _, conn := range conns {
		if conn.WatchActive && !conn.NeedsRenewal(s.cfg.RenewThreshold) {
			continue
		}
		if err := s.createWatch(ctx, conn); err != nil {
			s.log.WithError(err).WithField("connection_id", conn.ID).Error("startup watch setup failed, continuing")
		}
	}
	return nil
}

// RenewExpiring renews every subscription under the threshold. Renewal
// failures fall back to creating a fresh subscription; only when that also
// fails is the connection marked inactive.
func (s *Service) RenewExpiring(ctx context.Context) error {
	before := time.Now().Add(s.cfg.RenewThreshold)
	conns, err := s.connections.ListExpiring(ctx, before)
	if err != nil {
		return err
	}

	for _, conn := range conns {
		// The listing is a coarse cut; the threshold check here decides.
		if !conn.NeedsRenewal(s.cfg.RenewThreshold) {
			continue
		}
		if err := s.renewOne(ctx, conn); err != nil {
			s.log.WithError(err).WithField("connection_id", conn.ID).Error("watch renewal failed")
		}
	}
	return nil
}

func (s *Service) renewOne(ctx context.Context, conn *domain.EmailConnection) error {
	prov, err := s.provider(conn.Provider)
	if err != nil {
		return err
	}

	result, err := prov.Renew(ctx, conn)
	if err != nil {
		s.log.WithError(err).WithField("connection_id", conn.ID).Warn("renewal failed, recreating subscription")
		return s.recreateWatch(ctx, conn, prov)
	}

	return s.connections.UpdateWatch(ctx, &out.WatchUpdate{
		ConnectionID:   conn.ID,
		SubscriptionID: result.SubscriptionID,
		ClientState:    result.ClientState,
		ExpiresAt:      result.ExpiresAt,
		WatchActive:    true,
	})
}

func (s *Service) recreateWatch(ctx context.Context, conn *domain.EmailConnection, prov out.EmailProvider) error {
	result, err := prov.Watch(ctx, conn)
	if err != nil {
		if inactiveErr := s.connections.SetWatchInactive(ctx, conn.ID); inactiveErr != nil {
			s.log.WithError(inactiveErr).Error("failed to mark watch inactive")
		}
		if markErr := s.connections.SetLastError(ctx, conn.ID, err.Error()); markErr != nil {
			s.log.WithError(markErr).Error("failed to record watch error")
		}
		return err
	}

	return s.connections.UpdateWatch(ctx, &out.WatchUpdate{
		ConnectionID:   conn.ID,
		SubscriptionID: result.SubscriptionID,
		ClientState:    result.ClientState,
		ExpiresAt:      result.ExpiresAt,
		WatchActive:    true,
	})
}

// StopWatch tears down the provider subscription. Provider-side failures
// are logged; the local record is marked inactive either way.
func (s *Service) StopWatch(ctx context.Context, connectionID int64) error {
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		return apperr.NotFound("connection")
	}

	prov, err := s.provider(conn.Provider)
	if err != nil {
		return err
	}

	if err := prov.StopWatch(ctx, conn); err != nil {
		s.log.WithError(err).WithField("connection_id", conn.ID).Warn("provider stop failed, marking inactive locally")
	}
	return s.connections.SetWatchInactive(ctx, conn.ID)
}

// HandleGmailNotification flags the mailbox for backfill. An unknown
// address is logged and dropped: the push must still be acknowledged.
func (s *Service) HandleGmailNotification(ctx context.Context, emailAddress string, historyID uint64) error {
	conn, err := s.connections.GetByAccountEmail(ctx, emailAddress)
	if err != nil {
		return err
	}
	if conn == nil {
		s.log.WithField("email", emailAddress).Warn("gmail notification for unknown mailbox, dropping")
		return nil
	}

	if err := s.connections.SetNeedsBackfill(ctx, conn.ID); err != nil {
		return err
	}
	s.publishBackfill(ctx, conn, "gmail_history_notification")

	s.log.WithFields(map[string]any{
		"connection_id": conn.ID,
		"history_id":    historyID,
	}).Info("gmail notification flagged for backfill")
	return nil
}

// HandleOutlookChange processes one Graph notification entry. All paths
// return nil for known recoverable states: the batch must be acknowledged
// quickly regardless, and recovery runs through the renewal sweep.
func (s *Service) HandleOutlookChange(ctx context.Context, change *in.OutlookChange) error {
	conn, err := s.connections.GetBySubscriptionID(ctx, change.SubscriptionID)
	if err != nil {
		return err
	}
	if conn == nil {
		s.log.WithField("subscription_id", change.SubscriptionID).Warn("outlook notification for unknown subscription, dropping")
		return nil
	}

	if change.LifecycleEvent != "" {
		return s.handleOutlookLifecycle(ctx, conn, change)
	}

	// Anti-spoofing: clientState must match what we generated at
	// subscription time. A mismatch is recorded but the watch stays
	// active; only a verified lifecycle event deactivates it.
	if conn.ClientState == nil || *conn.ClientState != change.ClientState {
		s.log.WithField("connection_id", conn.ID).Warn("outlook clientState mismatch, possible spoofed notification")
		return s.connections.SetLastError(ctx, conn.ID, domain.ErrInvalidClientState)
	}

	if err := s.connections.SetNeedsBackfill(ctx, conn.ID); err != nil {
		return err
	}
	s.publishBackfill(ctx, conn, "outlook_change_notification")
	return nil
}

func (s *Service) handleOutlookLifecycle(ctx context.Context, conn *domain.EmailConnection, change *in.OutlookChange) error {
	log := s.log.WithFields(map[string]any{
		"connection_id":   conn.ID,
		"lifecycle_event": change.LifecycleEvent,
	})

	switch change.LifecycleEvent {
	case "subscriptionRemoved":
		log.Warn("outlook subscription removed upstream")
		if err := s.connections.SetWatchInactive(ctx, conn.ID); err != nil {
			return err
		}
		return s.connections.SetLastError(ctx, conn.ID, domain.ErrSubscriptionRemoved)

	case "reauthorizationRequired":
		log.Warn("outlook subscription requires reauthorization")
		// Notifications stop until the subscription is reauthorized, so
		// the mailbox needs a catch-up once it recovers. The error marker
		// goes last: SetNeedsBackfill clears it.
		if err := s.connections.SetNeedsBackfill(ctx, conn.ID); err != nil {
			return err
		}
		if err := s.connections.SetLastError(ctx, conn.ID, domain.ErrReauthRequired); err != nil {
			return err
		}
		s.publishBackfill(ctx, conn, "outlook_reauthorization_required")
		return nil

	case "missed":
		log.Warn("outlook notifications were missed, flagging backfill")
		if err := s.connections.SetNeedsBackfill(ctx, conn.ID); err != nil {
			return err
		}
		s.publishBackfill(ctx, conn, "outlook_missed_notifications")
		return nil

	default:
		log.Info("ignoring unhandled outlook lifecycle event")
		return nil
	}
}

func (s *Service) publishBackfill(ctx context.Context, conn *domain.EmailConnection, reason string) {
	job := &out.BackfillJob{
		ConnectionID: conn.ID,
		AgentID:      conn.AgentID.String(),
		Provider:     string(conn.Provider),
		Reason:       reason,
		NotifiedAt:   time.Now().UTC(),
	}
	if err := s.producer.PublishBackfill(ctx, job); err != nil {
		// Best-effort: the needs_backfill flag already persisted, the
		// periodic sweep will pick the mailbox up.
		s.log.WithError(err).WithField("connection_id", conn.ID).Warn("backfill publish failed")
	}
}

// Ensure Service implements in.WatchService
var _ in.WatchService = (*Service)(nil)
