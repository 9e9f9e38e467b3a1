package client

import (
	"context"
	"testing"
)

func TestNewWithAddrsRejectsEmptyList(t *testing.T) {
	if _, err := NewWithAddrs(Options{}); err != ErrAddrsEmpty {
		t.Fatalf("expected ErrAddrsEmpty, got %v", err)
	}
}

func TestNewWithAddrsNumbersDatacentersFromOne(t *testing.T) {
	cl, err := NewWithAddrs(Options{}, "149.154.175.50:443", "149.154.167.51:443")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	dc, err := cl.opts.Resolver.Resolve(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if dc.Address != "149.154.175.50:443" {
		t.Fatalf("dc 1 resolved to %q", dc.Address)
	}
	if _, err := cl.opts.Resolver.Resolve(ctx, 3); err == nil {
		t.Fatal("expected dc 3 to be unknown")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	cl, err := NewWithAddrs(Options{}, "149.154.175.50:443")
	if err != nil {
		t.Fatal(err)
	}
	// Stop before Start must be a no-op, and double Start/Stop must not
	// panic or leak the actor goroutine.
	cl.Stop()
	ctx := context.Background()
	cl.Start(ctx)
	cl.Start(ctx)
	cl.Stop()
	cl.Stop()
}

func TestCloseIsTerminal(t *testing.T) {
	cl, err := NewWithAddrs(Options{}, "149.154.175.50:443")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	cl.Start(ctx)
	cl.Close()

	// Start after Close must not resurrect the actor loop; Stop after a
	// no-op Start must return without hanging.
	cl.Start(ctx)
	cl.Stop()
}
