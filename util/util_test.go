package util

import "testing"

func TestMinMax(t *testing.T) {
	if Min(3, 5) != 3 {
		t.Fatal("Min wrong")
	}
	if Max(3, 5) != 5 {
		t.Fatal("Max wrong")
	}
}

func TestRoundupRounddown(t *testing.T) {
	if Rounddown(13, 4) != 12 {
		t.Fatal("Rounddown wrong")
	}
	if Roundup(13, 4) != 16 {
		t.Fatal("Roundup wrong")
	}
	if Roundup(16, 4) != 16 {
		t.Fatal("Roundup of an already-aligned value should be a no-op")
	}
}

func TestIsPow2(t *testing.T) {
	cases := map[int]bool{0: false, 1: true, 2: true, 3: false, 64: true, 63: false}
	for v, want := range cases {
		if got := IsPow2(v); got != want {
			t.Fatalf("IsPow2(%d) = %v, want %v", v, got, want)
		}
	}
}

func TestLog2(t *testing.T) {
	cases := map[uint]uint{1: 0, 2: 1, 3: 1, 8: 3, 9: 3}
	for v, want := range cases {
		if got := Log2(v); got != want {
			t.Fatalf("Log2(%d) = %d, want %d", v, got, want)
		}
	}
}

func TestLog2PanicsOnZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on Log2(0)")
		}
	}()
	Log2(uint(0))
}

func TestCommonPrefixBits64(t *testing.T) {
	// top 8 bits identical, 9th bit differs.
	a := uint64(0b11111111_0) << 55
	b := uint64(0b11111111_1) << 55
	if got := CommonPrefixBits64(a, b, 9); got != 8 {
		t.Fatalf("got %d, want 8", got)
	}
	if got := CommonPrefixBits64(a, b, 8); got != 8 {
		t.Fatalf("got %d, want 8 when only asking for the identical prefix", got)
	}
	if got := CommonPrefixBits64(a, a, 20); got != 20 {
		t.Fatalf("identical values should match the full requested width, got %d", got)
	}
	if got := CommonPrefixBits64(a, b, 0); got != 0 {
		t.Fatalf("zero-width request should return 0, got %d", got)
	}
}
