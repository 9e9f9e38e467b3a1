package crypto

import "testing"

func TestFactorizePQKnownProduct(t *testing.T) {
	cases := []struct {
		p, q uint64
	}{
		{17, 19},
		{1000003, 1000033},
		{2, 1000003},
	}
	for _, c := range cases {
		pq := c.p * c.q
		gotP, gotQ, err := FactorizePQ(pq)
		if err != nil {
			t.Fatalf("pq=%d: %v", pq, err)
		}
		if gotP != c.p || gotQ != c.q {
			t.Fatalf("pq=%d: got (%d, %d), want (%d, %d)", pq, gotP, gotQ, c.p, c.q)
		}
	}
}

func TestFactorizePQRejectsTrivial(t *testing.T) {
	if _, _, err := FactorizePQ(1); err != ErrFactorizationFailed {
		t.Fatalf("expected ErrFactorizationFailed for pq=1, got %v", err)
	}
	if _, _, err := FactorizePQ(0); err != ErrFactorizationFailed {
		t.Fatalf("expected ErrFactorizationFailed for pq=0, got %v", err)
	}
}
