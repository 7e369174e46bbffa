package types

import "testing"

func TestRecomputeThreshold(t *testing.T) {
	cases := []struct {
		size int
		want int
	}{
		{0, 3},
		{1, 3},
		{2, 3},
		{3, 3},
		{4, 3},
		{5, 4},
		{9, 6},
		{10, 6},
	}
	for _, c := range cases {
		g := NewGroup(1)
		for i := 0; i < c.size; i++ {
			addr := string(rune('a' + i))
			g.Members[addr] = &Member{Index: i + 1}
		}
		g.RecomputeThreshold()
		if g.Threshold != c.want {
			t.Fatalf("size=%d: got threshold %d, want %d", c.size, g.Threshold, c.want)
		}
	}
}

func TestRecomputeThresholdForcesNotReadyBelowThree(t *testing.T) {
	g := NewGroup(1)
	g.Ready = true
	g.Members["a"] = &Member{Index: 1}
	g.RecomputeThreshold()
	if g.Ready {
		t.Fatalf("expected ready to be forced false below 3 members")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	g := NewGroup(1)
	g.Members["a"] = &Member{Index: 1, PartialPublicKey: []byte{1, 2, 3}}
	cp := g.Clone()
	cp.Members["a"].PartialPublicKey[0] = 9
	if g.Members["a"].PartialPublicKey[0] == 9 {
		t.Fatalf("clone shares backing array with original")
	}
}
