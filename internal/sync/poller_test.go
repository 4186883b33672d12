package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPoller_RunsImmediatelyThenStops(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{pages: singlePage("acct-1", offerItem("o1", 1))}
	resolver := &fakeResolver{accounts: []string{"acct-1"}}
	c := newTestCoordinator(st, fetcher, resolver, nil)

	p := NewPoller(zap.NewNop(), c, time.Hour, 10)

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	// the first pass runs without waiting for a tick
	assert.Eventually(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return fetcher.calls >= 1
	}, time.Second, 10*time.Millisecond)

	p.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_StopsOnContextCancel(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{}
	resolver := &fakeResolver{accounts: nil}
	c := newTestCoordinator(st, fetcher, resolver, nil)

	p := NewPoller(zap.NewNop(), c, time.Hour, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on context cancel")
	}
}

func TestPoller_TicksAgain(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{pages: singlePage("acct-1", offerItem("o1", 1))}
	resolver := &fakeResolver{accounts: []string{"acct-1"}}
	c := newTestCoordinator(st, fetcher, resolver, nil)

	p := NewPoller(zap.NewNop(), c, 20*time.Millisecond, 10)
	go p.Start(context.Background())
	defer p.Stop()

	assert.Eventually(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return fetcher.calls >= 2
	}, time.Second, 10*time.Millisecond)
}
