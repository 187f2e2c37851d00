package graph

import "testing"

func TestFindCycleAcyclic(t *testing.T) {
	adj := map[string][]string{
		"a": {"b", "c"},
		"b": {"c"},
		"c": nil,
	}
	if cyc := findCycle(adj); cyc != nil {
		t.Errorf("findCycle = %v, want nil", cyc)
	}
}

func TestFindCycleSelfLoop(t *testing.T) {
	adj := map[string][]string{"a": {"a"}}
	cyc := findCycle(adj)
	if cyc == nil {
		t.Fatal("expected a cycle")
	}
	if cyc[0] != "a" || cyc[1] != "a" {
		t.Errorf("findCycle = %v, want [a a]", cyc)
	}
}

func TestFindCycleIndirect(t *testing.T) {
	adj := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}
	cyc := findCycle(adj)
	if cyc == nil {
		t.Fatal("expected a cycle among a, b, c")
	}
	seen := map[string]bool{}
	for _, n := range cyc {
		seen[n] = true
	}
	for _, n := range []string{"a", "b", "c"} {
		if !seen[n] {
			t.Errorf("cycle %v missing node %s", cyc, n)
		}
	}
}

func TestFindCycleDisconnectedComponents(t *testing.T) {
	adj := map[string][]string{
		"a": {"b"},
		"b": nil,
		"x": {"y"},
		"y": {"x"},
	}
	cyc := findCycle(adj)
	if cyc == nil {
		t.Fatal("expected the x/y cycle to be found despite a/b being acyclic")
	}
}
