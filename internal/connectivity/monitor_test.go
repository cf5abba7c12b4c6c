package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/posync/internal/metrics"
)

func newTestMonitor(initial bool) *Monitor {
	return NewMonitor(initial, metrics.NewSyncMetricsWithRegisterer(prometheus.NewRegistry()))
}

func TestMonitor_SignalsOnlyOnReconnect(t *testing.T) {
	monitor := newTestMonitor(false)
	sub := monitor.Subscribe()

	monitor.SetOnline(false)
	select {
	case <-sub:
		t.Fatal("unexpected signal while staying offline")
	default:
	}

	monitor.SetOnline(true)
	require.True(t, monitor.Online())
	select {
	case <-sub:
	default:
		t.Fatal("expected reconnect signal")
	}

	monitor.SetOnline(true)
	select {
	case <-sub:
		t.Fatal("unexpected signal while staying online")
	default:
	}
}

func TestMonitor_MultipleSubscribers(t *testing.T) {
	monitor := newTestMonitor(false)
	first, second := monitor.Subscribe(), monitor.Subscribe()

	monitor.SetOnline(true)

	for _, ch := range []<-chan struct{}{first, second} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive signal")
		}
	}
}

type stubPinger struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (p *stubPinger) Ping(context.Context) error {
	p.calls.Add(1)
	if p.fail.Load() {
		return errors.New("network unreachable")
	}
	return nil
}

func TestProber_UpdatesMonitor(t *testing.T) {
	monitor := newTestMonitor(true)
	pinger := &stubPinger{}
	pinger.fail.Store(true)
	prober := NewProber(monitor, pinger)

	require.False(t, prober.ProbeOnce(context.Background()))
	require.False(t, monitor.Online())

	sub := monitor.Subscribe()
	pinger.fail.Store(false)
	require.True(t, prober.ProbeOnce(context.Background()))
	require.True(t, monitor.Online())
	select {
	case <-sub:
	default:
		t.Fatal("expected reconnect signal")
	}
}

func TestProber_RunStopsOnCancel(t *testing.T) {
	monitor := newTestMonitor(false)
	pinger := &stubPinger{}
	prober := NewProber(monitor, pinger, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		prober.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return pinger.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prober did not stop")
	}
	require.True(t, monitor.Online())
}
