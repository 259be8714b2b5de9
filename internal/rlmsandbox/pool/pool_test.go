package pool

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shesha/rlmcore/internal/rlmsandbox/executor"
	"github.com/shesha/rlmcore/internal/rlmsandbox/runner"
	"github.com/shesha/rlmcore/internal/rlmsandbox/wire"
)

func testFactory(t *testing.T, created *int32) Factory {
	return func(ctx context.Context) (*executor.ContainerExecutor, error) {
		atomic.AddInt32(created, 1)
		guestConn, hostConn := net.Pipe()
		t.Cleanup(func() {
			guestConn.Close()
			hostConn.Close()
		})
		go runner.New(guestConn, wire.NoMultiplexTags).Serve()
		return executor.New(hostConn, wire.NoMultiplexTags, nil, executor.ModeFast), nil
	}
}

func TestGetPutReusesExecutor(t *testing.T) {
	var created int32
	p, err := New(context.Background(), testFactory(t, &created), 0, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	exe, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Put(exe)

	exe2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if exe2 != exe {
		t.Fatalf("expected the same executor to be reused")
	}
	if atomic.LoadInt32(&created) != 1 {
		t.Fatalf("created = %d, want exactly 1", created)
	}
}

func TestGetCreatesUpToMaxSize(t *testing.T) {
	var created int32
	p, err := New(context.Background(), testFactory(t, &created), 0, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	exe1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get 1: %v", err)
	}
	exe2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get 2: %v", err)
	}
	if exe1 == exe2 {
		t.Fatalf("expected two distinct executors")
	}
	if atomic.LoadInt32(&created) != 2 {
		t.Fatalf("created = %d, want 2", created)
	}

	stats := p.Stats()
	if stats.Active != 2 || stats.MaxSize != 2 {
		t.Fatalf("stats = %+v, want active=2 maxSize=2", stats)
	}
}

func TestGetTimesOutWhenExhausted(t *testing.T) {
	var created int32
	p, err := New(context.Background(), testFactory(t, &created), 0, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Get(ctx); err == nil {
		t.Fatalf("expected Get to block and then fail once ctx is done")
	}
}

func TestDiscardFreesSlotForReplacement(t *testing.T) {
	var created int32
	p, err := New(context.Background(), testFactory(t, &created), 0, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	exe, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Discard(exe)

	if _, err := p.Get(context.Background()); err != nil {
		t.Fatalf("Get after discard: %v", err)
	}
	if atomic.LoadInt32(&created) != 2 {
		t.Fatalf("created = %d, want 2 (original + replacement)", created)
	}
}

func TestWarmupPrecreates(t *testing.T) {
	var created int32
	p, err := New(context.Background(), testFactory(t, &created), 0, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Warmup(context.Background(), 3); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if stats := p.Stats(); stats.Available != 3 {
		t.Fatalf("stats.Available = %d, want 3", stats.Available)
	}
}

func TestCloseThenGetFails(t *testing.T) {
	var created int32
	p, err := New(context.Background(), testFactory(t, &created), 1, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Close()
	if _, err := p.Get(context.Background()); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
