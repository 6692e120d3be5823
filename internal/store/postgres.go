package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openclaw/devlink/internal/database"
	apperrors "github.com/openclaw/devlink/internal/errors"
	"github.com/openclaw/devlink/internal/model"
)

// PostgresStore implements SessionStore on top of Postgres. The claim
// and expiry exclusivity does not rely on application locks: every
// transition is a conditional UPDATE guarded by the current status, so
// the row lock decides the winner of a race.
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ SessionStore = (*PostgresStore)(nil)

func (s *PostgresStore) CreateSession(ctx context.Context, params model.CreateSessionParams) (*model.PairingSession, error) {
	var session model.PairingSession
	err := s.db.GetContext(ctx, &session, `
		INSERT INTO pairing_sessions (id, code, transport, owner_user_id, status, expires_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING *
	`, uuid.NewString(), params.Code, params.Transport, params.OwnerUserID, params.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		// 23505: the partial unique index on live (transport, code)
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrCodeInUse
		}
		return nil, apperrors.StoreUnavailable(err)
	}
	return &session, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.PairingSession, error) {
	var session model.PairingSession
	err := s.db.GetContext(ctx, &session, `
		SELECT * FROM pairing_sessions WHERE id = $1
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.SessionNotFound()
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return &session, nil
}

func (s *PostgresStore) ClaimSession(ctx context.Context, code string, transport model.Transport, device model.DeviceInfo) (*model.PairingSession, *model.DeviceConnection, error) {
	deviceID := device.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	var session model.PairingSession
	var conn model.DeviceConnection

	txErr := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &session, `
			UPDATE pairing_sessions SET
				status = 'connected',
				claimed_device_id = $3,
				updated_at = now()
			WHERE code = $1 AND transport = $2
			AND status = 'pending' AND expires_at > now()
			RETURNING *
		`, code, transport, deviceID)
		if errors.Is(err, sql.ErrNoRows) {
			return s.classifyClaimMiss(ctx, tx, code, transport)
		}
		if err != nil {
			return apperrors.StoreUnavailable(err)
		}

		err = tx.GetContext(ctx, &conn, `
			INSERT INTO device_connections
				(device_id, user_id, name, platform, transport, status, connected_at, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, 'connected', now(), now())
			ON CONFLICT (user_id, device_id) DO UPDATE SET
				name = EXCLUDED.name,
				platform = EXCLUDED.platform,
				transport = EXCLUDED.transport,
				status = 'connected',
				connected_at = now(),
				last_seen_at = now()
			RETURNING *
		`, deviceID, session.OwnerUserID, device.Name, device.Platform, transport)
		if err != nil {
			return apperrors.StoreUnavailable(err)
		}
		return nil
	})
	if txErr != nil {
		if apperrors.IsAppError(txErr) {
			return nil, nil, txErr
		}
		return nil, nil, apperrors.StoreUnavailable(txErr)
	}
	return &session, &conn, nil
}

// classifyClaimMiss decides between SESSION_ALREADY_CLAIMED and
// SESSION_NOT_FOUND once the conditional update matched nothing.
func (s *PostgresStore) classifyClaimMiss(ctx context.Context, tx *sqlx.Tx, code string, transport model.Transport) error {
	var status model.SessionStatus
	err := tx.GetContext(ctx, &status, `
		SELECT status FROM pairing_sessions
		WHERE code = $1 AND transport = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, code, transport)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.SessionNotFound()
	}
	if err != nil {
		return apperrors.StoreUnavailable(err)
	}
	if status == model.SessionStatusConnected {
		return apperrors.SessionAlreadyClaimed()
	}
	return apperrors.SessionNotFound()
}

func (s *PostgresStore) CancelSession(ctx context.Context, sessionID, userID string) (*model.PairingSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.OwnerUserID != userID {
		return nil, apperrors.NotAuthorized("Pairing session")
	}

	var cancelled model.PairingSession
	err = s.db.GetContext(ctx, &cancelled, `
		UPDATE pairing_sessions SET
			status = 'cancelled',
			updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING *
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race against claim or expiry: terminal already,
		// which cancel treats as success.
		return s.GetSession(ctx, sessionID)
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return &cancelled, nil
}

func (s *PostgresStore) ListPendingByUser(ctx context.Context, userID string) ([]model.PairingSession, error) {
	var sessions []model.PairingSession
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM pairing_sessions
		WHERE owner_user_id = $1 AND status = 'pending' AND expires_at > now()
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return sessions, nil
}

func (s *PostgresStore) CountPendingByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM pairing_sessions
		WHERE owner_user_id = $1 AND status = 'pending' AND expires_at > now()
	`, userID)
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	return count, nil
}

func (s *PostgresStore) ExpireDueSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pairing_sessions SET
			status = 'expired',
			updated_at = now()
		WHERE status = 'pending' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	return n, nil
}

func (s *PostgresStore) GetConnection(ctx context.Context, deviceID, userID string) (*model.DeviceConnection, error) {
	var conn model.DeviceConnection
	err := s.db.GetContext(ctx, &conn, `
		SELECT * FROM device_connections WHERE device_id = $1 AND user_id = $2
	`, deviceID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.DeviceNotFound(deviceID)
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return &conn, nil
}

func (s *PostgresStore) ListConnectedByUser(ctx context.Context, userID string) ([]model.DeviceConnection, error) {
	var conns []model.DeviceConnection
	err := s.db.SelectContext(ctx, &conns, `
		SELECT * FROM device_connections
		WHERE user_id = $1 AND status = 'connected'
		ORDER BY last_seen_at DESC
	`, userID)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return conns, nil
}

// ownedConn fetches the user's connection row. A miss where the
// deviceID exists under another account reads as NOT_AUTHORIZED rather
// than DEVICE_NOT_FOUND.
func (s *PostgresStore) ownedConn(ctx context.Context, deviceID, userID string) (*model.DeviceConnection, error) {
	conn, err := s.GetConnection(ctx, deviceID, userID)
	if err == nil {
		return conn, nil
	}
	if !apperrors.HasCode(err, apperrors.ErrCodeDeviceNotFound) {
		return nil, err
	}

	var foreign bool
	checkErr := s.db.GetContext(ctx, &foreign, `
		SELECT EXISTS (SELECT 1 FROM device_connections WHERE device_id = $1)
	`, deviceID)
	if checkErr != nil {
		return nil, apperrors.StoreUnavailable(checkErr)
	}
	if foreign {
		return nil, apperrors.NotAuthorized("Device")
	}
	return nil, apperrors.DeviceNotFound(deviceID)
}

func (s *PostgresStore) DisconnectDevice(ctx context.Context, deviceID, userID string) (*model.DeviceConnection, error) {
	if _, err := s.ownedConn(ctx, deviceID, userID); err != nil {
		return nil, err
	}

	var conn model.DeviceConnection
	err := s.db.GetContext(ctx, &conn, `
		UPDATE device_connections SET
			status = 'disconnected',
			last_seen_at = now()
		WHERE device_id = $1 AND user_id = $2 AND status = 'connected'
		RETURNING *
	`, deviceID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		// Already disconnected: idempotent success.
		return s.GetConnection(ctx, deviceID, userID)
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return &conn, nil
}

func (s *PostgresStore) ReconnectDevice(ctx context.Context, deviceID, userID string, transport model.Transport) (*model.DeviceConnection, error) {
	if _, err := s.ownedConn(ctx, deviceID, userID); err != nil {
		return nil, err
	}

	var conn model.DeviceConnection
	err := s.db.GetContext(ctx, &conn, `
		UPDATE device_connections SET
			status = 'connected',
			transport = $3,
			connected_at = CASE WHEN status = 'disconnected' THEN now() ELSE connected_at END,
			last_seen_at = now()
		WHERE device_id = $1 AND user_id = $2
		RETURNING *
	`, deviceID, userID, transport)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return &conn, nil
}

func (s *PostgresStore) TouchDevice(ctx context.Context, deviceID, userID string, at time.Time) (*model.DeviceConnection, error) {
	var conn model.DeviceConnection
	err := s.db.GetContext(ctx, &conn, `
		UPDATE device_connections SET
			last_seen_at = GREATEST(last_seen_at, $3)
		WHERE device_id = $1 AND user_id = $2 AND status = 'connected'
		RETURNING *
	`, deviceID, userID, at)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish unknown device / foreign owner / disconnected.
		if _, ownErr := s.ownedConn(ctx, deviceID, userID); ownErr != nil {
			return nil, ownErr
		}
		return nil, apperrors.DeviceNotFound(deviceID)
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return &conn, nil
}

func (s *PostgresStore) DisconnectStale(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE device_connections SET
			status = 'disconnected'
		WHERE status = 'connected' AND last_seen_at < $1
	`, olderThan)
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	return n, nil
}

// PurgeTerminal deletes terminal sessions and disconnected devices older
// than the cutoff. The sweeper never calls this: retention is owned by
// an external archival job.
func (s *PostgresStore) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM pairing_sessions
		WHERE status IN ('expired', 'cancelled') AND updated_at < $1
	`, before)
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	return n, nil
}
