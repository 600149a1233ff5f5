package salesgraph

// The sales conversation moves through a fixed node graph. Transitions are
// constrained: a classified step outside the allowed-next set of the current
// node is clamped back to the current node rather than trusted.

const (
	NodeGreeting          = "greeting"
	NodeNeedDiscovery     = "need_discovery"
	NodeSolutionMatching  = "solution_matching"
	NodePriceDiscussion   = "price_discussion"
	NodeObjectionHandling = "objection_handling"
	NodeClosing           = "closing"
)

// StartNode is where every new conversation begins.
const StartNode = NodeGreeting

var nodes = []string{
	NodeGreeting,
	NodeNeedDiscovery,
	NodeSolutionMatching,
	NodePriceDiscussion,
	NodeObjectionHandling,
	NodeClosing,
}

// Forward progression plus the backtracks that occur in real conversations:
// price questions can arrive early, and objections can reopen discovery.
var allowedNext = map[string][]string{
	NodeGreeting:          {NodeGreeting, NodeNeedDiscovery, NodePriceDiscussion},
	NodeNeedDiscovery:     {NodeNeedDiscovery, NodeSolutionMatching, NodePriceDiscussion},
	NodeSolutionMatching:  {NodeSolutionMatching, NodePriceDiscussion, NodeObjectionHandling},
	NodePriceDiscussion:   {NodePriceDiscussion, NodeObjectionHandling, NodeClosing},
	NodeObjectionHandling: {NodeObjectionHandling, NodeNeedDiscovery, NodePriceDiscussion, NodeClosing},
	NodeClosing:           {NodeClosing, NodeObjectionHandling},
}

// Nodes returns the full node list in pipeline order.
func Nodes() []string {
	out := make([]string, len(nodes))
	copy(out, nodes)
	return out
}

// Known reports whether node is part of the graph.
func Known(node string) bool {
	_, ok := allowedNext[node]
	return ok
}

// AllowedNext returns the valid successor set for node, including staying
// put. Unknown nodes get no successors.
func AllowedNext(node string) []string {
	next, ok := allowedNext[node]
	if !ok {
		return nil
	}
	out := make([]string, len(next))
	copy(out, next)
	return out
}

// CanAdvance reports whether from -> to is a legal transition.
func CanAdvance(from, to string) bool {
	for _, n := range allowedNext[from] {
		if n == to {
			return true
		}
	}
	return false
}

// Clamp returns to when the transition is legal, otherwise from. It also
// repairs an unknown current node back to the start node.
func Clamp(from, to string) string {
	if !Known(from) {
		from = StartNode
	}
	if CanAdvance(from, to) {
		return to
	}
	return from
}
