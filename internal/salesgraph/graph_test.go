package salesgraph

import "testing"

func TestAllowedNextIncludesSelf(t *testing.T) {
	for _, node := range Nodes() {
		if !CanAdvance(node, node) {
			t.Fatalf("node %q cannot stay in place", node)
		}
	}
}

func TestCanAdvance(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{NodeGreeting, NodeNeedDiscovery, true},
		{NodeGreeting, NodePriceDiscussion, true},
		{NodeGreeting, NodeClosing, false},
		{NodeNeedDiscovery, NodeSolutionMatching, true},
		{NodePriceDiscussion, NodeClosing, true},
		{NodeClosing, NodeGreeting, false},
		{NodeObjectionHandling, NodeNeedDiscovery, true},
		{"bogus", NodeGreeting, false},
	}
	for _, tc := range cases {
		if got := CanAdvance(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanAdvance(%q, %q) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(NodeGreeting, NodeClosing); got != NodeGreeting {
		t.Fatalf("Clamp(greeting, closing) = %q, want %q", got, NodeGreeting)
	}
	if got := Clamp(NodeGreeting, NodeNeedDiscovery); got != NodeNeedDiscovery {
		t.Fatalf("Clamp(greeting, need_discovery) = %q, want %q", got, NodeNeedDiscovery)
	}
	if got := Clamp("bogus", "also-bogus"); got != StartNode {
		t.Fatalf("Clamp(bogus, bogus) = %q, want %q", got, StartNode)
	}
}
