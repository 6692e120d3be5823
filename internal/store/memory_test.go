package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/devlink/internal/errors"
	"github.com/openclaw/devlink/internal/model"
)

func pendingSession(t *testing.T, s *MemoryStore, code string, transport model.Transport, owner string, ttl time.Duration) *model.PairingSession {
	t.Helper()
	session, err := s.CreateSession(context.Background(), model.CreateSessionParams{
		Code:        code,
		Transport:   transport,
		OwnerUserID: owner,
		ExpiresAt:   time.Now().Add(ttl),
	})
	require.NoError(t, err)
	return session
}

func TestMemoryStore_CreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending session", func(t *testing.T) {
		s := NewMemoryStore()
		session := pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)

		assert.NotEmpty(t, session.ID)
		assert.Equal(t, model.SessionStatusPending, session.Status)
		assert.Nil(t, session.ClaimedDeviceID)
	})

	t.Run("rejects duplicate live code on same transport", func(t *testing.T) {
		s := NewMemoryStore()
		pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)

		_, err := s.CreateSession(ctx, model.CreateSessionParams{
			Code:        "123456",
			Transport:   model.TransportDigital,
			OwnerUserID: "user-2",
			ExpiresAt:   time.Now().Add(time.Minute),
		})
		assert.ErrorIs(t, err, ErrCodeInUse)
	})

	t.Run("allows same code on a different transport", func(t *testing.T) {
		s := NewMemoryStore()
		pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)
		pendingSession(t, s, "123456", model.TransportBluetooth, "user-1", time.Minute)
	})

	t.Run("allows code reuse once the previous session expired", func(t *testing.T) {
		s := NewMemoryStore()
		pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		pendingSession(t, s, "123456", model.TransportDigital, "user-2", time.Minute)
	})

	t.Run("allows code reuse after claim", func(t *testing.T) {
		s := NewMemoryStore()
		pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)
		_, _, err := s.ClaimSession(ctx, "123456", model.TransportDigital, model.DeviceInfo{DeviceID: "d1"})
		require.NoError(t, err)

		pendingSession(t, s, "123456", model.TransportDigital, "user-2", time.Minute)
	})
}

func TestMemoryStore_ClaimSession(t *testing.T) {
	ctx := context.Background()

	t.Run("claim connects session and upserts connection", func(t *testing.T) {
		s := NewMemoryStore()
		created := pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)

		session, conn, err := s.ClaimSession(ctx, "123456", model.TransportDigital, model.DeviceInfo{
			DeviceID: "d1", Name: "Work phone", Platform: "android",
		})
		require.NoError(t, err)

		assert.Equal(t, created.ID, session.ID)
		assert.Equal(t, model.SessionStatusConnected, session.Status)
		require.NotNil(t, session.ClaimedDeviceID)
		assert.Equal(t, "d1", *session.ClaimedDeviceID)

		assert.Equal(t, "user-1", conn.UserID)
		assert.Equal(t, model.ConnectionStatusConnected, conn.Status)
		assert.Equal(t, model.TransportDigital, conn.Transport)
	})

	t.Run("generates a device id when absent", func(t *testing.T) {
		s := NewMemoryStore()
		pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)

		_, conn, err := s.ClaimSession(ctx, "123456", model.TransportDigital, model.DeviceInfo{})
		require.NoError(t, err)
		assert.NotEmpty(t, conn.DeviceID)
	})

	t.Run("unknown code fails with SESSION_NOT_FOUND", func(t *testing.T) {
		s := NewMemoryStore()
		_, _, err := s.ClaimSession(ctx, "000000", model.TransportDigital, model.DeviceInfo{})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
	})

	t.Run("wrong transport fails with SESSION_NOT_FOUND", func(t *testing.T) {
		s := NewMemoryStore()
		pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)

		_, _, err := s.ClaimSession(ctx, "123456", model.TransportBluetooth, model.DeviceInfo{})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
	})

	t.Run("expired code fails even before the sweeper runs", func(t *testing.T) {
		s := NewMemoryStore()
		created := pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Millisecond)
		time.Sleep(5 * time.Millisecond)

		_, _, err := s.ClaimSession(ctx, "123456", model.TransportDigital, model.DeviceInfo{DeviceID: "d1"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))

		session, err := s.GetSession(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusExpired, session.Status)
	})

	t.Run("second claim fails with SESSION_ALREADY_CLAIMED", func(t *testing.T) {
		s := NewMemoryStore()
		pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)

		_, _, err := s.ClaimSession(ctx, "123456", model.TransportDigital, model.DeviceInfo{DeviceID: "d1"})
		require.NoError(t, err)

		_, _, err = s.ClaimSession(ctx, "123456", model.TransportDigital, model.DeviceInfo{DeviceID: "d2"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionAlreadyClaimed))
	})

	t.Run("N racing claims produce exactly one winner", func(t *testing.T) {
		s := NewMemoryStore()
		pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)

		const racers = 32
		var wg sync.WaitGroup
		errs := make([]error, racers)

		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _, errs[i] = s.ClaimSession(ctx, "123456", model.TransportDigital, model.DeviceInfo{})
			}(i)
		}
		wg.Wait()

		winners, losers := 0, 0
		for _, err := range errs {
			if err == nil {
				winners++
			} else {
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionAlreadyClaimed))
				losers++
			}
		}
		assert.Equal(t, 1, winners)
		assert.Equal(t, racers-1, losers)
	})
}

func TestMemoryStore_NoResurrection(t *testing.T) {
	ctx := context.Background()

	t.Run("cancelled session cannot be claimed", func(t *testing.T) {
		s := NewMemoryStore()
		created := pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)

		_, err := s.CancelSession(ctx, created.ID, "user-1")
		require.NoError(t, err)

		_, _, err = s.ClaimSession(ctx, "123456", model.TransportDigital, model.DeviceInfo{})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
	})

	t.Run("connected session survives the sweep untouched", func(t *testing.T) {
		s := NewMemoryStore()
		created := pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Millisecond)

		_, _, err := s.ClaimSession(ctx, "123456", model.TransportDigital, model.DeviceInfo{DeviceID: "d1"})
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		expired, err := s.ExpireDueSessions(ctx, time.Now())
		require.NoError(t, err)
		assert.Zero(t, expired)

		session, err := s.GetSession(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusConnected, session.Status)
	})

	t.Run("cancel after claim is a no-op success", func(t *testing.T) {
		s := NewMemoryStore()
		created := pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)

		_, _, err := s.ClaimSession(ctx, "123456", model.TransportDigital, model.DeviceInfo{DeviceID: "d1"})
		require.NoError(t, err)

		session, err := s.CancelSession(ctx, created.ID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusConnected, session.Status)
	})
}

func TestMemoryStore_CancelSession(t *testing.T) {
	ctx := context.Background()

	t.Run("owner cancels pending session", func(t *testing.T) {
		s := NewMemoryStore()
		created := pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)

		session, err := s.CancelSession(ctx, created.ID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusCancelled, session.Status)
	})

	t.Run("non-owner is rejected", func(t *testing.T) {
		s := NewMemoryStore()
		created := pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)

		_, err := s.CancelSession(ctx, created.ID, "user-2")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotAuthorized))
	})

	t.Run("cancelling twice succeeds", func(t *testing.T) {
		s := NewMemoryStore()
		created := pendingSession(t, s, "123456", model.TransportDigital, "user-1", time.Minute)

		_, err := s.CancelSession(ctx, created.ID, "user-1")
		require.NoError(t, err)
		session, err := s.CancelSession(ctx, created.ID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusCancelled, session.Status)
	})
}

func TestMemoryStore_ExpireDueSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("expires only due pending sessions", func(t *testing.T) {
		s := NewMemoryStore()
		due := pendingSession(t, s, "111111", model.TransportDigital, "user-1", time.Millisecond)
		live := pendingSession(t, s, "222222", model.TransportDigital, "user-1", time.Minute)
		time.Sleep(5 * time.Millisecond)

		expired, err := s.ExpireDueSessions(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), expired)

		dueSession, _ := s.GetSession(ctx, due.ID)
		assert.Equal(t, model.SessionStatusExpired, dueSession.Status)
		liveSession, _ := s.GetSession(ctx, live.ID)
		assert.Equal(t, model.SessionStatusPending, liveSession.Status)
	})
}

func TestMemoryStore_Connections(t *testing.T) {
	ctx := context.Background()

	claim := func(t *testing.T, s *MemoryStore, code, owner, deviceID string) *model.DeviceConnection {
		t.Helper()
		pendingSession(t, s, code, model.TransportQR, owner, time.Minute)
		_, conn, err := s.ClaimSession(ctx, code, model.TransportQR, model.DeviceInfo{DeviceID: deviceID})
		require.NoError(t, err)
		return conn
	}

	t.Run("list is per-user and most-recent-first", func(t *testing.T) {
		s := NewMemoryStore()
		claim(t, s, "aaaa", "user-1", "d1")
		claim(t, s, "bbbb", "user-2", "d2")
		claim(t, s, "cccc", "user-1", "d3")

		_, err := s.TouchDevice(ctx, "d1", "user-1", time.Now().Add(time.Second))
		require.NoError(t, err)

		devices, err := s.ListConnectedByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, devices, 2)
		assert.Equal(t, "d1", devices[0].DeviceID)
		assert.Equal(t, "d3", devices[1].DeviceID)
		for _, d := range devices {
			assert.Equal(t, "user-1", d.UserID)
		}
	})

	t.Run("disconnect is idempotent", func(t *testing.T) {
		s := NewMemoryStore()
		claim(t, s, "aaaa", "user-1", "d1")

		conn, err := s.DisconnectDevice(ctx, "d1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, model.ConnectionStatusDisconnected, conn.Status)

		conn, err = s.DisconnectDevice(ctx, "d1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, model.ConnectionStatusDisconnected, conn.Status)

		devices, err := s.ListConnectedByUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, devices)
	})

	t.Run("disconnect by a different user is rejected", func(t *testing.T) {
		s := NewMemoryStore()
		claim(t, s, "aaaa", "user-1", "d1")

		_, err := s.DisconnectDevice(ctx, "d1", "user-2")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotAuthorized))
	})

	t.Run("same device paired to two users keeps both records", func(t *testing.T) {
		s := NewMemoryStore()
		claim(t, s, "aaaa", "user-1", "d1")
		claim(t, s, "bbbb", "user-2", "d1")

		for _, user := range []string{"user-1", "user-2"} {
			conn, err := s.GetConnection(ctx, "d1", user)
			require.NoError(t, err)
			assert.Equal(t, user, conn.UserID)

			devices, err := s.ListConnectedByUser(ctx, user)
			require.NoError(t, err)
			require.Len(t, devices, 1)
			assert.Equal(t, "d1", devices[0].DeviceID)
		}

		// Disconnecting one user's record leaves the other's alone.
		_, err := s.DisconnectDevice(ctx, "d1", "user-2")
		require.NoError(t, err)

		conn, err := s.GetConnection(ctx, "d1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, model.ConnectionStatusConnected, conn.Status)
	})

	t.Run("reconnect restores a disconnected device", func(t *testing.T) {
		s := NewMemoryStore()
		claim(t, s, "aaaa", "user-1", "d1")

		_, err := s.DisconnectDevice(ctx, "d1", "user-1")
		require.NoError(t, err)

		conn, err := s.ReconnectDevice(ctx, "d1", "user-1", model.TransportQR)
		require.NoError(t, err)
		assert.Equal(t, model.ConnectionStatusConnected, conn.Status)
	})

	t.Run("reconnect of unknown device is DEVICE_NOT_FOUND", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.ReconnectDevice(ctx, "ghost", "user-1", model.TransportQR)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDeviceNotFound))
	})

	t.Run("heartbeat on a disconnected device fails", func(t *testing.T) {
		s := NewMemoryStore()
		claim(t, s, "aaaa", "user-1", "d1")
		_, err := s.DisconnectDevice(ctx, "d1", "user-1")
		require.NoError(t, err)

		_, err = s.TouchDevice(ctx, "d1", "user-1", time.Now())
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDeviceNotFound))
	})

	t.Run("stale connections are disconnected by the sweep", func(t *testing.T) {
		s := NewMemoryStore()
		claim(t, s, "aaaa", "user-1", "d1")
		claim(t, s, "bbbb", "user-1", "d2")

		_, err := s.TouchDevice(ctx, "d2", "user-1", time.Now().Add(time.Minute))
		require.NoError(t, err)

		stale, err := s.DisconnectStale(ctx, time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(1), stale)

		devices, err := s.ListConnectedByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "d2", devices[0].DeviceID)
	})
}
