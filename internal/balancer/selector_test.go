package balancer

import (
	"testing"

	"github.com/canopyrun/canopy/internal/registry"
)

func backends(ids ...string) []registry.Backend {
	out := make([]registry.Backend, len(ids))
	for i, id := range ids {
		out[i] = registry.Backend{ContainerID: id, Address: "10.0.0.5", ExternalPort: 30000 + i}
	}
	return out
}

func TestRoundRobinRotates(t *testing.T) {
	s := NewRoundRobin()
	bs := backends("c-a", "c-b", "c-c")

	var got []string
	for i := 0; i < 6; i++ {
		b, ok := s.Select(bs)
		if !ok {
			t.Fatal("Select returned no backend for non-empty list")
		}
		got = append(got, b.ContainerID)
	}

	// Two full rotations, each backend exactly twice.
	counts := map[string]int{}
	for _, id := range got {
		counts[id]++
	}
	for _, id := range []string{"c-a", "c-b", "c-c"} {
		if counts[id] != 2 {
			t.Errorf("backend %s selected %d times in 6 rounds, want 2 (got %v)", id, counts[id], got)
		}
	}
	// Adjacent picks never repeat with more than one candidate.
	for i := 1; i < len(got); i++ {
		if got[i] == got[i-1] {
			t.Errorf("round robin repeated %s at positions %d,%d", got[i], i-1, i)
		}
	}
}

func TestRoundRobinSurvivesMembershipChange(t *testing.T) {
	s := NewRoundRobin()
	for i := 0; i < 5; i++ {
		s.Select(backends("c-a", "c-b", "c-c"))
	}
	// Shrinking the candidate list must not panic or skip selection.
	b, ok := s.Select(backends("c-a"))
	if !ok || b.ContainerID != "c-a" {
		t.Errorf("Select after shrink = %v/%v, want c-a", b.ContainerID, ok)
	}
}

func TestSelectorsRejectEmptyList(t *testing.T) {
	for name, s := range map[string]Selector{"roundrobin": NewRoundRobin(), "random": NewRandom()} {
		if _, ok := s.Select(nil); ok {
			t.Errorf("%s selected a backend from an empty list", name)
		}
	}
}

func TestRandomStaysInBounds(t *testing.T) {
	s := NewRandom()
	bs := backends("c-a", "c-b")
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		b, ok := s.Select(bs)
		if !ok {
			t.Fatal("Select returned no backend")
		}
		seen[b.ContainerID] = true
	}
	if len(seen) != 2 {
		t.Errorf("random selector over 50 rounds picked %v, want both candidates", seen)
	}
}
