package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/minitel/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddRemove(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	a, _ := net.Pipe()
	st := NewConnectionState("pipe", time.Now())

	r.Add(st, a)
	require.Equal(t, 1, r.Len())
	require.True(t, r.Remove(st.ID))
	require.False(t, r.Remove(st.ID))
	require.Zero(t, r.Len())
}

func TestRegistryExpiredEvictsOnlyIdle(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	now := time.Now()

	stale := NewConnectionState("stale", now.Add(-3*time.Second))
	fresh := NewConnectionState("fresh", now.Add(-3*time.Second))
	fresh.Touch(now.Add(-time.Second))
	staleConn, staleRemote := net.Pipe()
	freshConn, _ := net.Pipe()
	r.Add(stale, staleConn)
	r.Add(fresh, freshConn)

	evicted := r.Expired(now, 2*time.Second)
	require.Len(t, evicted, 1)
	require.Equal(t, stale.ID, evicted[0].State.ID)
	require.True(t, stale.Evicted())
	require.False(t, fresh.Evicted())
	require.Equal(t, 1, r.Len())

	_ = evicted[0].Conn.Close()
	_, err := staleRemote.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestRegistryIdleBoundary(t *testing.T) {
	testlog.Start(t)
	now := time.Now()
	st := NewConnectionState("edge", now.Add(-2*time.Second))
	require.False(t, st.Idle(now, 2*time.Second), "exactly the window is not idle")
	require.True(t, st.Idle(now.Add(time.Millisecond), 2*time.Second))
}

func TestRegistrySnapshotOrdered(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	now := time.Now()
	for i, name := range []string{"c", "a", "b"} {
		c, _ := net.Pipe()
		r.Add(NewConnectionState(name, now.Add(time.Duration(i)*time.Second)), c)
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, []string{"c", "a", "b"}, []string{snap[0].RemoteAddr, snap[1].RemoteAddr, snap[2].RemoteAddr})
}

func TestRegistryCloseAll(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	local, remote := net.Pipe()
	r.Add(NewConnectionState("pipe", time.Now()), local)
	require.Equal(t, 1, r.CloseAll())
	_, err := remote.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestSecretProviders(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	got, err := StaticSecret("FLAG{A}").Secret(ctx)
	require.NoError(t, err)
	require.Equal(t, "FLAG{A}", string(got))
	got[0] = 'X'
	again, _ := StaticSecret("FLAG{A}").Secret(ctx)
	require.Equal(t, "FLAG{A}", string(again))

	_, err = StaticSecret(nil).Secret(ctx)
	require.ErrorIs(t, err, ErrSecretUnavailable)

	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte("FLAG{FILE}\n"), 0o600))
	got, err = FileSecret{Path: path}.Secret(ctx)
	require.NoError(t, err)
	require.Equal(t, "FLAG{FILE}", string(got))

	_, err = FileSecret{Path: filepath.Join(dir, "missing")}.Secret(ctx)
	require.ErrorIs(t, err, ErrSecretUnavailable)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	_, err = FileSecret{Path: empty}.Secret(ctx)
	require.ErrorIs(t, err, ErrSecretUnavailable)
}
