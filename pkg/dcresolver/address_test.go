package dcresolver

import (
	"context"
	"testing"
)

func TestParseAddressClassifiesLiterals(t *testing.T) {
	cases := []struct {
		in     string
		socket bool
	}{
		{"149.154.167.51:443", true},
		{"[2001:67c:4e8:f002::a]:443", true},
		{"dc2.example.org:443", false},
		{"wss://dc2.example.org/apiws", false},
		{"149.154.167.51", false}, // no port, not dialable as a socket addr
	}
	for _, c := range cases {
		a := ParseAddress(c.in)
		if a.IsSocketAddr() != c.socket {
			t.Errorf("ParseAddress(%q).IsSocketAddr() = %v, want %v", c.in, a.IsSocketAddr(), c.socket)
		}
		if c.socket && a.String() == "" {
			t.Errorf("ParseAddress(%q): empty dialable form", c.in)
		}
		if !c.socket && a.String() != c.in {
			t.Errorf("ParseAddress(%q): custom form mangled to %q", c.in, a.String())
		}
	}
}

func TestStaticResolver(t *testing.T) {
	r := NewStatic([]DataCenter{
		{ID: 1, Address: "149.154.175.50:443"},
		{ID: 2, Address: "149.154.167.51:443"},
	})
	defer r.Close()

	ctx := context.Background()
	dc, err := r.Resolve(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if dc.Address != "149.154.167.51:443" {
		t.Fatalf("unexpected address %q", dc.Address)
	}

	if _, err := r.Resolve(ctx, 9); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := r.Update(ctx, []DataCenter{{ID: 9, Address: "91.108.56.130:443"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(ctx, 9); err != nil {
		t.Fatalf("expected dc 9 resolvable after Update, got %v", err)
	}

	roster, err := r.Roster(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(roster) != 3 {
		t.Fatalf("expected 3 roster entries, got %d", len(roster))
	}
}
