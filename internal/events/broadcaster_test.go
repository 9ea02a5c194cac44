package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiracleAig/IoT-WebUI/internal/metrics"
	"github.com/MiracleAig/IoT-WebUI/internal/models"
)

func nextWithin(t *testing.T, s *Subscription, d time.Duration) (models.ScanEvent, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Next(ctx)
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := New()
	a := b.Subscribe()
	c := b.Subscribe()
	defer a.Close()
	defer c.Close()

	b.Publish(models.ScanEvent{Barcode: "1"})
	b.Publish(models.ScanEvent{Barcode: "2"})

	for _, s := range []*Subscription{a, c} {
		ev, err := nextWithin(t, s, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "1", ev.Barcode)

		ev, err = nextWithin(t, s, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "2", ev.Barcode)
	}
}

func TestBroadcaster_LateSubscriberMissesEarlierEvents(t *testing.T) {
	b := New()
	b.Publish(models.ScanEvent{Barcode: "early"})

	s := b.Subscribe()
	defer s.Close()

	_, err := nextWithin(t, s, 50*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	b.Publish(models.ScanEvent{Barcode: "late"})
	ev, err := nextWithin(t, s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", ev.Barcode)
}

func TestBroadcaster_PublishWithoutSubscribers(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() { b.Publish(models.ScanEvent{Barcode: "x"}) })
	assert.Zero(t, b.Count())
}

func TestBroadcaster_PublishNeverBlocks(t *testing.T) {
	b := New()
	s := b.Subscribe()
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			b.Publish(models.ScanEvent{Barcode: fmt.Sprint(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on an idle subscriber")
	}
	assert.Equal(t, 10000, s.Pending())
}

func TestSubscription_CloseRemovesAndIsIdempotent(t *testing.T) {
	m := metrics.New()
	b := New(WithMetrics(m))
	s := b.Subscribe()
	other := b.Subscribe()
	defer other.Close()
	require.Equal(t, 2, b.Count())

	b.Publish(models.ScanEvent{Barcode: "queued"})
	s.Close()
	s.Close()

	assert.Equal(t, 1, b.Count())
	assert.Zero(t, s.Pending())
	expected := `
# HELP nutrition_stream_subscribers Live feed subscribers currently connected.
# TYPE nutrition_stream_subscribers gauge
nutrition_stream_subscribers 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "nutrition_stream_subscribers"))

	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	b.Publish(models.ScanEvent{Barcode: "after"})
	assert.Zero(t, s.Pending())
}

func TestSubscription_NextUnblocksOnClose(t *testing.T) {
	b := New()
	s := b.Subscribe()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestSubscription_NextHonoursContext(t *testing.T) {
	b := New()
	s := b.Subscribe()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBroadcaster_MaxPendingDropsOldest(t *testing.T) {
	m := metrics.New()
	b := New(WithMaxPending(2), WithMetrics(m))
	s := b.Subscribe()
	defer s.Close()

	for _, code := range []string{"1", "2", "3", "4"} {
		b.Publish(models.ScanEvent{Barcode: code})
	}
	require.Equal(t, 2, s.Pending())

	ev, err := nextWithin(t, s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "3", ev.Barcode)
	ev, err = nextWithin(t, s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "4", ev.Barcode)

	expected := `
# HELP nutrition_events_dropped_total Events discarded because a subscriber queue hit max_pending.
# TYPE nutrition_events_dropped_total counter
nutrition_events_dropped_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "nutrition_events_dropped_total"))
}

func TestBroadcaster_Shutdown(t *testing.T) {
	b := New()
	s := b.Subscribe()

	b.Shutdown()
	b.Shutdown()

	assert.Zero(t, b.Count())
	select {
	case <-s.Done():
	default:
		t.Fatal("subscription still open after shutdown")
	}

	late := b.Subscribe()
	_, err := late.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, b.Count())

	assert.NotPanics(t, func() { b.Publish(models.ScanEvent{Barcode: "x"}) })
}

func TestBroadcaster_Concurrent(t *testing.T) {
	const (
		subscribers = 8
		events      = 200
	)
	b := New()

	subs := make([]*Subscription, subscribers)
	for i := range subs {
		subs[i] = b.Subscribe()
	}

	var wg sync.WaitGroup
	counts := make([]int, subscribers)
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s *Subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for counts[i] < events {
				if _, err := s.Next(ctx); err != nil {
					return
				}
				counts[i]++
			}
		}(i, s)
	}

	var pub sync.WaitGroup
	for p := 0; p < 4; p++ {
		pub.Add(1)
		go func() {
			defer pub.Done()
			for i := 0; i < events/4; i++ {
				b.Publish(models.ScanEvent{Barcode: "c"})
			}
		}()
	}
	pub.Wait()
	wg.Wait()

	for i := range counts {
		assert.Equal(t, events, counts[i], "subscriber %d", i)
	}
	for _, s := range subs {
		s.Close()
	}
	assert.Zero(t, b.Count())
}
