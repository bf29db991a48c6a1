package persistence

import (
	"context"
	"database/sql"
	"time"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ConnectionAdapter implements out.ConnectionRepository using PostgreSQL.
type ConnectionAdapter struct {
	db *sqlx.DB
}

// NewConnectionAdapter creates a new ConnectionAdapter.
func NewConnectionAdapter(db *sqlx.DB) *ConnectionAdapter {
	return &ConnectionAdapter{db: db}
}

// connectionRow represents the database row for email connections.
type connectionRow struct {
	ID      int64     `db:"id"`
	AgentID uuid.UUID `db:"agent_id"`

	Provider     string `db:"provider"`
	AccountEmail string `db:"account_email"`

	AccessToken  string       `db:"access_token"`
	RefreshToken string       `db:"refresh_token"`
	TokenExpiry  sql.NullTime `db:"token_expiry"`

	Status string `db:"status"`

	WatchActive    bool           `db:"watch_active"`
	SubscriptionID sql.NullString `db:"subscription_id"`
	ClientState    sql.NullString `db:"client_state"`
	WatchExpiresAt sql.NullTime   `db:"watch_expires_at"`

	LastError     sql.NullString `db:"last_error"`
	NeedsBackfill bool           `db:"needs_backfill"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

const connectionColumns = `
	id, agent_id, provider, account_email,
	access_token, refresh_token, token_expiry, status,
	watch_active, subscription_id, client_state, watch_expires_at,
	last_error, needs_backfill, created_at, updated_at
`

func (r *connectionRow) toDomain() *domain.EmailConnection {
	conn := &domain.EmailConnection{
		ID:            r.ID,
		AgentID:       r.AgentID,
		Provider:      domain.Provider(r.Provider),
		AccountEmail:  r.AccountEmail,
		AccessToken:   r.AccessToken,
		RefreshToken:  r.RefreshToken,
		Status:        domain.ConnectionStatus(r.Status),
		WatchActive:   r.WatchActive,
		NeedsBackfill: r.NeedsBackfill,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}

	if r.TokenExpiry.Valid {
		conn.TokenExpiry = &r.TokenExpiry.Time
	}
	if r.SubscriptionID.Valid {
		conn.SubscriptionID = &r.SubscriptionID.String
	}
	if r.ClientState.Valid {
		conn.ClientState = &r.ClientState.String
	}
	if r.WatchExpiresAt.Valid {
		conn.WatchExpiresAt = &r.WatchExpiresAt.Time
	}
	if r.LastError.Valid {
		conn.LastError = &r.LastError.String
	}

	return conn
}

// Upsert inserts a connection keyed on (agent_id, provider). Reconnecting
// the same mailbox replaces the tokens and resets the error state.
func (a *ConnectionAdapter) Upsert(ctx context.Context, conn *domain.EmailConnection) (*domain.EmailConnection, error) {
	const query = `
		INSERT INTO email_connections (
			agent_id, provider, account_email,
			access_token, refresh_token, token_expiry, status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, NOW(), NOW()
		)
		ON CONFLICT (agent_id, provider) DO UPDATE SET
			account_email = EXCLUDED.account_email,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry,
			status = EXCLUDED.status,
			last_error = NULL,
			updated_at = NOW()
		RETURNING ` + connectionColumns

	var expiry sql.NullTime
	if conn.TokenExpiry != nil {
		expiry = sql.NullTime{Time: *conn.TokenExpiry, Valid: true}
	}

	var row connectionRow
	err := a.db.GetContext(ctx, &row, query,
		conn.AgentID,
		string(conn.Provider),
		conn.AccountEmail,
		conn.AccessToken,
		conn.RefreshToken,
		expiry,
		string(conn.Status),
	)
	if err != nil {
		return nil, err
	}

	return row.toDomain(), nil
}

// GetByID retrieves one connection, or nil.
func (a *ConnectionAdapter) GetByID(ctx context.Context, id int64) (*domain.EmailConnection, error) {
	const query = `SELECT ` + connectionColumns + ` FROM email_connections WHERE id = $1`
	return a.getOne(ctx, query, id)
}

// GetByAgentProvider retrieves the connection for one (agent, provider) pair.
func (a *ConnectionAdapter) GetByAgentProvider(ctx context.Context, agentID uuid.UUID, provider domain.Provider) (*domain.EmailConnection, error) {
	const query = `SELECT ` + connectionColumns + ` FROM email_connections WHERE agent_id = $1 AND provider = $2`
	return a.getOne(ctx, query, agentID, string(provider))
}

// GetBySubscriptionID retrieves the connection owning a provider subscription.
func (a *ConnectionAdapter) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.EmailConnection, error) {
	const query = `SELECT ` + connectionColumns + ` FROM email_connections WHERE subscription_id = $1`
	return a.getOne(ctx, query, subscriptionID)
}

// GetByAccountEmail retrieves the connection for a mailbox address.
func (a *ConnectionAdapter) GetByAccountEmail(ctx context.Context, accountEmail string) (*domain.EmailConnection, error) {
	const query = `SELECT ` + connectionColumns + ` FROM email_connections WHERE LOWER(account_email) = LOWER($1)`
	return a.getOne(ctx, query, accountEmail)
}

func (a *ConnectionAdapter) getOne(ctx context.Context, query string, args ...any) (*domain.EmailConnection, error) {
	var row connectionRow
	if err := a.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// ListConnected returns every connection eligible for a live watch.
func (a *ConnectionAdapter) ListConnected(ctx context.Context) ([]*domain.EmailConnection, error) {
	const query = `
		SELECT ` + connectionColumns + `
		FROM email_connections
		WHERE status IN ('connected', 'active', 'watching')
		ORDER BY id ASC
	`
	return a.list(ctx, query)
}

// ListExpiring returns active watches expiring before the given time or
// with unknown expiration. Connections carrying an error marker sort
// first so recovery happens before routine renewal.
func (a *ConnectionAdapter) ListExpiring(ctx context.Context, before time.Time) ([]*domain.EmailConnection, error) {
	const query = `
		SELECT ` + connectionColumns + `
		FROM email_connections
		WHERE status IN ('connected', 'active', 'watching')
		  AND (watch_expires_at IS NULL OR watch_expires_at < $1)
		ORDER BY (last_error IS NULL) ASC, watch_expires_at ASC NULLS FIRST
	`
	return a.list(ctx, query, before)
}

func (a *ConnectionAdapter) list(ctx context.Context, query string, args ...any) ([]*domain.EmailConnection, error) {
	var rows []connectionRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	conns := make([]*domain.EmailConnection, 0, len(rows))
	for i := range rows {
		conns = append(conns, rows[i].toDomain())
	}
	return conns, nil
}

// UpdateWatch records a watch/subscription result and clears the error state.
func (a *ConnectionAdapter) UpdateWatch(ctx context.Context, upd *out.WatchUpdate) error {
	const query = `
		UPDATE email_connections SET
			subscription_id = $1,
			client_state = $2,
			watch_expires_at = $3,
			watch_active = $4,
			last_error = NULL,
			updated_at = NOW()
		WHERE id = $5
	`

	_, err := a.db.ExecContext(ctx, query,
		nullString(upd.SubscriptionID),
		nullString(upd.ClientState),
		upd.ExpiresAt,
		upd.WatchActive,
		upd.ConnectionID,
	)
	return err
}

// UpdateTokens stores refreshed OAuth tokens.
func (a *ConnectionAdapter) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiry *time.Time) error {
	const query = `
		UPDATE email_connections SET
			access_token = $1,
			refresh_token = COALESCE(NULLIF($2, ''), refresh_token),
			token_expiry = $3,
			updated_at = NOW()
		WHERE id = $4
	`

	var exp sql.NullTime
	if expiry != nil {
		exp = sql.NullTime{Time: *expiry, Valid: true}
	}

	_, err := a.db.ExecContext(ctx, query, accessToken, refreshToken, exp, id)
	return err
}

// SetNeedsBackfill flags the connection and clears last_error.
func (a *ConnectionAdapter) SetNeedsBackfill(ctx context.Context, id int64) error {
	const query = `
		UPDATE email_connections SET
			needs_backfill = true,
			last_error = NULL,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := a.db.ExecContext(ctx, query, id)
	return err
}

// SetWatchInactive marks the subscription as no longer live.
func (a *ConnectionAdapter) SetWatchInactive(ctx context.Context, id int64) error {
	const query = `
		UPDATE email_connections SET
			watch_active = false,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := a.db.ExecContext(ctx, query, id)
	return err
}

// SetLastError records a watch or notification failure marker.
func (a *ConnectionAdapter) SetLastError(ctx context.Context, id int64, marker string) error {
	const query = `
		UPDATE email_connections SET
			last_error = $1,
			updated_at = NOW()
		WHERE id = $2
	`
	_, err := a.db.ExecContext(ctx, query, marker, id)
	return err
}

// Ensure ConnectionAdapter implements out.ConnectionRepository
var _ out.ConnectionRepository = (*ConnectionAdapter)(nil)
