package primeset

import "testing"

func TestGenerateSmall(t *testing.T) {
	s := Generate(30)
	want := []uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29}
	got := s.Primes()
	if len(got) != len(want) {
		t.Fatalf("got %d primes, want %d: %v", len(got), len(want), got)
	}
	for i, p := range want {
		if got[i] != p {
			t.Errorf("primes[%d] = %d, want %d", i, got[i], p)
		}
	}
}

func TestPrimePi(t *testing.T) {
	s := Generate(100)
	cases := []struct {
		x    uint64
		want int
	}{
		{1, 0},
		{2, 1},
		{10, 4},
		{29, 10},
		{30, 10},
		{97, 25},
		{100, 25},
	}
	for _, c := range cases {
		if got := s.PrimePi(c.x); got != c.want {
			t.Errorf("PrimePi(%d) = %d, want %d", c.x, got, c.want)
		}
	}
}

func TestGenerateEmptyBelowTwo(t *testing.T) {
	if s := Generate(1); s.Len() != 0 {
		t.Errorf("Generate(1) should have no primes, got %d", s.Len())
	}
}
