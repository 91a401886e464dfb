package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestManagerRejectsConcurrentRunForSameUser(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := NewManager(nil, nil)
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := m.Run(context.Background(), 7, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
		if err != nil {
			t.Errorf("first run error: %v", err)
		}
	}()

	<-started
	if !m.Busy(7) {
		t.Fatalf("expected user 7 busy")
	}
	err := m.Run(context.Background(), 7, func(context.Context) error {
		t.Fatalf("second run must not execute")
		return nil
	})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	// other users are not blocked
	if err := m.Run(context.Background(), 8, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("other user run error: %v", err)
	}

	close(release)
	wg.Wait()
	if m.Busy(7) {
		t.Fatalf("expected user 7 idle after run")
	}
	if err := m.Run(context.Background(), 7, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("run after release error: %v", err)
	}
}

func TestManagerReturnsJobErrorAndDropsLanes(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := NewManager(nil, nil)
	want := errors.New("boom")
	if err := m.Run(context.Background(), 1, func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected job error, got %v", err)
	}
	m.mu.Lock()
	n := len(m.lanes)
	m.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected idle lanes dropped, got %d", n)
	}
}

func TestManagerPassesContext(t *testing.T) {
	m := NewManager(nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := m.Run(ctx, 3, func(got context.Context) error {
		if got != ctx {
			t.Fatalf("context not passed through")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
}
