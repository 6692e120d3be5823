package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/openclaw/devlink/internal/errors"
	"github.com/openclaw/devlink/internal/model"
)

type codeKey struct {
	transport model.Transport
	code      string
}

type sessionEntry struct {
	mu      sync.Mutex
	session model.PairingSession
}

// connKey identifies a connection record. The same deviceID paired to
// two accounts is two independent records.
type connKey struct {
	userID   string
	deviceID string
}

type connEntry struct {
	mu   sync.Mutex
	conn model.DeviceConnection
}

// MemoryStore is the in-process SessionStore. The outer mutex only
// guards the maps and the live-code index; every state transition runs
// under the per-record mutex, so operations on different sessions or
// devices proceed in parallel.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	byCode   map[codeKey]string // live pending codes -> session id
	conns    map[connKey]*connEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*sessionEntry),
		byCode:   make(map[codeKey]string),
		conns:    make(map[connKey]*connEntry),
	}
}

var _ SessionStore = (*MemoryStore)(nil)

func (s *MemoryStore) CreateSession(ctx context.Context, params model.CreateSessionParams) (*model.PairingSession, error) {
	now := time.Now()
	key := codeKey{params.Transport, params.Code}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prevID, ok := s.byCode[key]; ok {
		if prev := s.sessions[prevID]; prev != nil && s.codeLive(prev, now) {
			return nil, ErrCodeInUse
		}
	}

	session := model.PairingSession{
		ID:          uuid.NewString(),
		Code:        params.Code,
		Transport:   params.Transport,
		OwnerUserID: params.OwnerUserID,
		Status:      model.SessionStatusPending,
		ExpiresAt:   params.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.sessions[session.ID] = &sessionEntry{session: session}
	s.byCode[key] = session.ID

	out := session
	return &out, nil
}

// codeLive reports whether the entry still blocks reuse of its code.
// Caller holds s.mu.
func (s *MemoryStore) codeLive(e *sessionEntry, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Status == model.SessionStatusPending && !e.session.ExpiredAt(now)
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*model.PairingSession, error) {
	s.mu.RLock()
	entry := s.sessions[sessionID]
	s.mu.RUnlock()

	if entry == nil {
		return nil, apperrors.SessionNotFound()
	}

	entry.mu.Lock()
	out := entry.session
	entry.mu.Unlock()
	return &out, nil
}

func (s *MemoryStore) ClaimSession(ctx context.Context, code string, transport model.Transport, device model.DeviceInfo) (*model.PairingSession, *model.DeviceConnection, error) {
	now := time.Now()

	s.mu.RLock()
	sessionID, ok := s.byCode[codeKey{transport, code}]
	var entry *sessionEntry
	if ok {
		entry = s.sessions[sessionID]
	}
	s.mu.RUnlock()

	if entry == nil {
		return nil, nil, apperrors.SessionNotFound()
	}

	deviceID := device.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	entry.mu.Lock()
	switch {
	case entry.session.Status == model.SessionStatusConnected:
		entry.mu.Unlock()
		return nil, nil, apperrors.SessionAlreadyClaimed()
	case entry.session.Terminal():
		entry.mu.Unlock()
		return nil, nil, apperrors.SessionNotFound()
	case entry.session.ExpiredAt(now):
		// Claim holds the per-session lock, so it may settle the
		// expiry itself instead of waiting for the sweeper.
		entry.session.Status = model.SessionStatusExpired
		entry.session.UpdatedAt = now
		entry.mu.Unlock()
		s.releaseCode(transport, code, sessionID)
		return nil, nil, apperrors.SessionNotFound()
	}

	entry.session.Status = model.SessionStatusConnected
	entry.session.ClaimedDeviceID = &deviceID
	entry.session.UpdatedAt = now
	session := entry.session
	entry.mu.Unlock()

	// The code index keeps pointing at the claimed session so that a
	// racing claim observes SESSION_ALREADY_CLAIMED rather than a
	// vanished code. CreateSession overwrites the stale mapping when
	// the code is reused.
	conn := s.upsertConnection(session, device, deviceID, now)
	return &session, conn, nil
}

// releaseCode drops the live-code index entry once the session has left
// pending, if the index still points at it.
func (s *MemoryStore) releaseCode(transport model.Transport, code, sessionID string) {
	key := codeKey{transport, code}
	s.mu.Lock()
	if s.byCode[key] == sessionID {
		delete(s.byCode, key)
	}
	s.mu.Unlock()
}

func (s *MemoryStore) upsertConnection(session model.PairingSession, device model.DeviceInfo, deviceID string, now time.Time) *model.DeviceConnection {
	key := connKey{session.OwnerUserID, deviceID}

	s.mu.Lock()
	entry := s.conns[key]
	if entry == nil {
		entry = &connEntry{}
		s.conns[key] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	entry.conn = model.DeviceConnection{
		DeviceID:    deviceID,
		UserID:      session.OwnerUserID,
		Name:        device.Name,
		Platform:    device.Platform,
		Transport:   session.Transport,
		Status:      model.ConnectionStatusConnected,
		ConnectedAt: now,
		LastSeenAt:  now,
	}
	out := entry.conn
	entry.mu.Unlock()
	return &out
}

func (s *MemoryStore) CancelSession(ctx context.Context, sessionID, userID string) (*model.PairingSession, error) {
	s.mu.RLock()
	entry := s.sessions[sessionID]
	s.mu.RUnlock()

	if entry == nil {
		return nil, apperrors.SessionNotFound()
	}

	entry.mu.Lock()
	if entry.session.OwnerUserID != userID {
		entry.mu.Unlock()
		return nil, apperrors.NotAuthorized("Pairing session")
	}
	if entry.session.Terminal() {
		out := entry.session
		entry.mu.Unlock()
		return &out, nil
	}
	entry.session.Status = model.SessionStatusCancelled
	entry.session.UpdatedAt = time.Now()
	out := entry.session
	entry.mu.Unlock()

	s.releaseCode(out.Transport, out.Code, sessionID)
	return &out, nil
}

func (s *MemoryStore) ListPendingByUser(ctx context.Context, userID string) ([]model.PairingSession, error) {
	now := time.Now()
	entries := s.snapshotSessions()

	var out []model.PairingSession
	for _, session := range entries {
		if session.OwnerUserID == userID && session.Status == model.SessionStatusPending && !session.ExpiredAt(now) {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CountPendingByUser(ctx context.Context, userID string) (int, error) {
	sessions, err := s.ListPendingByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func (s *MemoryStore) snapshotSessions() []model.PairingSession {
	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]model.PairingSession, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.session)
		e.mu.Unlock()
	}
	return out
}

func (s *MemoryStore) ExpireDueSessions(ctx context.Context, now time.Time) (int64, error) {
	s.mu.RLock()
	entries := make(map[string]*sessionEntry, len(s.sessions))
	for id, e := range s.sessions {
		entries[id] = e
	}
	s.mu.RUnlock()

	var expired int64
	for id, e := range entries {
		e.mu.Lock()
		if e.session.Status == model.SessionStatusPending && e.session.ExpiredAt(now) {
			e.session.Status = model.SessionStatusExpired
			e.session.UpdatedAt = now
			transport, code := e.session.Transport, e.session.Code
			e.mu.Unlock()
			s.releaseCode(transport, code, id)
			expired++
			continue
		}
		e.mu.Unlock()
	}
	return expired, nil
}

func (s *MemoryStore) GetConnection(ctx context.Context, deviceID, userID string) (*model.DeviceConnection, error) {
	s.mu.RLock()
	entry := s.conns[connKey{userID, deviceID}]
	s.mu.RUnlock()

	if entry == nil {
		return nil, apperrors.DeviceNotFound(deviceID)
	}

	entry.mu.Lock()
	out := entry.conn
	entry.mu.Unlock()
	return &out, nil
}

func (s *MemoryStore) ListConnectedByUser(ctx context.Context, userID string) ([]model.DeviceConnection, error) {
	s.mu.RLock()
	entries := make([]*connEntry, 0, len(s.conns))
	for _, e := range s.conns {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []model.DeviceConnection
	for _, e := range entries {
		e.mu.Lock()
		if e.conn.UserID == userID && e.conn.Status == model.ConnectionStatusConnected {
			out = append(out, e.conn)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}

// ownedConn resolves the user's entry for deviceID. A miss where the
// deviceID exists under another account reads as NOT_AUTHORIZED rather
// than DEVICE_NOT_FOUND.
func (s *MemoryStore) ownedConn(deviceID, userID string) (*connEntry, error) {
	s.mu.RLock()
	entry := s.conns[connKey{userID, deviceID}]
	deviceKnown := entry != nil
	if !deviceKnown {
		for key := range s.conns {
			if key.deviceID == deviceID {
				deviceKnown = true
				break
			}
		}
	}
	s.mu.RUnlock()

	if entry == nil {
		if deviceKnown {
			return nil, apperrors.NotAuthorized("Device")
		}
		return nil, apperrors.DeviceNotFound(deviceID)
	}
	return entry, nil
}

func (s *MemoryStore) DisconnectDevice(ctx context.Context, deviceID, userID string) (*model.DeviceConnection, error) {
	entry, err := s.ownedConn(deviceID, userID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	if entry.conn.Status != model.ConnectionStatusDisconnected {
		entry.conn.Status = model.ConnectionStatusDisconnected
		entry.conn.LastSeenAt = time.Now()
	}
	out := entry.conn
	entry.mu.Unlock()
	return &out, nil
}

func (s *MemoryStore) ReconnectDevice(ctx context.Context, deviceID, userID string, transport model.Transport) (*model.DeviceConnection, error) {
	entry, err := s.ownedConn(deviceID, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entry.mu.Lock()
	if entry.conn.Status == model.ConnectionStatusDisconnected {
		entry.conn.Status = model.ConnectionStatusConnected
		entry.conn.ConnectedAt = now
	}
	entry.conn.Transport = transport
	entry.conn.LastSeenAt = now
	out := entry.conn
	entry.mu.Unlock()
	return &out, nil
}

func (s *MemoryStore) TouchDevice(ctx context.Context, deviceID, userID string, at time.Time) (*model.DeviceConnection, error) {
	entry, err := s.ownedConn(deviceID, userID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.conn.Status != model.ConnectionStatusConnected {
		return nil, apperrors.DeviceNotFound(deviceID)
	}
	if at.After(entry.conn.LastSeenAt) {
		entry.conn.LastSeenAt = at
	}
	out := entry.conn
	return &out, nil
}

func (s *MemoryStore) DisconnectStale(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.RLock()
	entries := make([]*connEntry, 0, len(s.conns))
	for _, e := range s.conns {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var stale int64
	for _, e := range entries {
		e.mu.Lock()
		if e.conn.Status == model.ConnectionStatusConnected && e.conn.LastSeenAt.Before(olderThan) {
			e.conn.Status = model.ConnectionStatusDisconnected
			stale++
		}
		e.mu.Unlock()
	}
	return stale, nil
}
