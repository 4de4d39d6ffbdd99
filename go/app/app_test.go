package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFactorAdditive(t *testing.T) {
	var ctx = context.Background()
	var stats LoadStats
	var lf = NewLoadFactor(LoadFactorConfig{
		HeavyConnections: 100,
		HeavyDocuments:   100,
		HeavySessions:    100,
		HeavyStoreBytes:  1000,
	}, func(context.Context) LoadStats { return stats })

	require.Equal(t, 0, lf.Value(ctx))

	// Each stat contributes independently.
	stats = LoadStats{Connections: 50}
	require.Equal(t, 50, lf.Value(ctx))

	stats = LoadStats{Connections: 50, Documents: 25, Sessions: 25}
	require.Equal(t, 100, lf.Value(ctx))

	// One stat crossing its threshold is enough to read heavy.
	stats = LoadStats{Documents: 120}
	require.GreaterOrEqual(t, lf.Value(ctx), HeavyLoadValue)
}

func TestShutdownManager(t *testing.T) {
	var m = NewShutdownManager()
	require.False(t, m.IsShuttingDown())

	select {
	case <-m.WhenShuttingDown():
		t.Fatal("shutdown resolved before initiation")
	default:
	}

	var task = make(chan struct{})
	m.WaitFor(task)

	m.Shutdown("test")
	m.Shutdown("again") // No-op.
	require.True(t, m.IsShuttingDown())
	<-m.WhenShuttingDown()

	// Drain waits on registered work.
	var ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, m.Drain(ctx))

	close(task)
	require.NoError(t, m.Drain(context.Background()))
}

func TestDrainConnections(t *testing.T) {
	var remaining atomic.Int32
	remaining.Store(3)

	var err = DrainConnections(context.Background(),
		func() int { return int(remaining.Load()) },
		func() {
			if remaining.Load() > 0 {
				remaining.Add(-1)
			}
		})
	require.NoError(t, err)
	require.Equal(t, int32(0), remaining.Load())

	// A wedged connection bounds the drain by its context.
	remaining.Store(1)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = DrainConnections(ctx, func() int { return 1 }, func() {})
	require.Error(t, err)
}

func newTestMonitor(healthy *atomic.Bool, lf *int) *Monitor {
	var load = NewLoadFactor(LoadFactorConfig{}, func(context.Context) LoadStats {
		return LoadStats{Connections: *lf}
	})
	var signal = NewTrafficSignal(func() int { return *lf })
	return NewMonitor(signal, load,
		func() bool { return healthy.Load() },
		func() map[string]any { return map[string]any{"connections": *lf} },
		"dev", true)
}

func TestMonitorEndpoints(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	var lf = 0

	var server = httptest.NewServer(newTestMonitor(&healthy, &lf).Router())
	defer server.Close()

	var get = func(path string) *http.Response {
		var resp, err = http.Get(server.URL + path)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	require.Equal(t, http.StatusOK, get("/health").StatusCode)
	require.Equal(t, http.StatusOK, get("/info").StatusCode)
	require.Equal(t, http.StatusOK, get("/metrics").StatusCode)
	require.Equal(t, http.StatusOK, get("/load-factor").StatusCode)
	require.Equal(t, http.StatusOK, get("/traffic-signal").StatusCode)
	require.Equal(t, http.StatusOK, get("/var").StatusCode)
	require.Equal(t, http.StatusNotFound, get("/nonesuch").StatusCode)

	// Ill health flips /health and, via the signal, /traffic-signal.
	healthy.Store(false)
	require.Equal(t, http.StatusServiceUnavailable, get("/health").StatusCode)

	var signalServer = newTestMonitor(&healthy, &lf)
	signalServer.signal.SetHealth(false)
	var ts = httptest.NewServer(signalServer.Router())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/traffic-signal")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
