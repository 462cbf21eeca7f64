package workflow

import (
	"fmt"
	"sort"

	"github.com/kadirpekel/ragflow/internal/apperr"
)

// Graph is a Definition that has passed structural validation, ready to be
// stepped by an Executor. Holding a *Graph rather than a *Definition is
// the compiler's proof that the invariants in Compile were checked.
type Graph struct {
	Definition *Definition
	nodes      map[string]Node
	outgoing   map[string][]Edge
}

// Node looks up a node by id; __start__ and __end__ resolve to synthetic
// zero-config nodes of no particular type.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Outgoing returns the edges leaving nodeID in declaration order.
func (g *Graph) Outgoing(nodeID string) []Edge {
	return g.outgoing[nodeID]
}

// Compile validates a Definition against the structural invariants every
// WorkflowDefinition must satisfy and, if they hold, returns a Graph ready
// for execution:
//   - exactly one outgoing edge from __start__
//   - every non-terminal node is reachable from __start__
//   - every reachable path terminates at __end__ or an interrupt node
//     (human_in_loop)
//   - no uncontrolled cycles: a cycle must contain at least one
//     conditional edge
func Compile(def *Definition) (*Graph, error) {
	nodes := make(map[string]Node, len(def.Nodes)+2)
	for _, n := range def.Nodes {
		if n.ID == StartNodeID || n.ID == EndNodeID {
			return nil, invalidf("node id %q is reserved", n.ID)
		}
		nodes[n.ID] = n
	}

	outgoing := make(map[string][]Edge)
	for _, e := range def.Edges {
		if e.Source != StartNodeID {
			if _, ok := nodes[e.Source]; !ok {
				return nil, invalidf("edge references unknown source node %q", e.Source)
			}
		}
		if e.Target != EndNodeID {
			if _, ok := nodes[e.Target]; !ok {
				return nil, invalidf("edge references unknown target node %q", e.Target)
			}
		}
		outgoing[e.Source] = append(outgoing[e.Source], e)
	}

	if len(outgoing[StartNodeID]) != 1 {
		return nil, invalidf("workflow must have exactly one outgoing edge from %s, found %d", StartNodeID, len(outgoing[StartNodeID]))
	}

	if err := checkReachability(def, nodes, outgoing); err != nil {
		return nil, err
	}
	if err := checkTermination(def, nodes, outgoing); err != nil {
		return nil, err
	}
	if err := checkCycles(nodes, outgoing); err != nil {
		return nil, err
	}

	return &Graph{Definition: def, nodes: nodes, outgoing: outgoing}, nil
}

func checkReachability(def *Definition, nodes map[string]Node, outgoing map[string][]Edge) error {
	reached := map[string]bool{StartNodeID: true}
	queue := []string{StartNodeID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range outgoing[cur] {
			if !reached[e.Target] {
				reached[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}

	var unreached []string
	for id := range nodes {
		if !reached[id] {
			unreached = append(unreached, id)
		}
	}
	if len(unreached) > 0 {
		sort.Strings(unreached)
		return invalidf("node(s) unreachable from %s: %v", StartNodeID, unreached)
	}
	return nil
}

// checkTermination walks every path from __start__ and fails if one stops
// at a node with no outgoing edge that is neither __end__ nor a
// human_in_loop node. A path that re-enters a node already on the current
// walk is not followed further; cycles are validated by checkCycles.
func checkTermination(def *Definition, nodes map[string]Node, outgoing map[string][]Edge) error {
	var walk func(nodeID string, visiting map[string]bool) error
	walk = func(nodeID string, visiting map[string]bool) error {
		if nodeID == EndNodeID {
			return nil
		}
		if n, ok := nodes[nodeID]; ok && n.Type == NodeHumanInLoop {
			return nil
		}
		if visiting[nodeID] {
			return nil
		}
		edges := outgoing[nodeID]
		if len(edges) == 0 {
			return invalidf("node %q has no outgoing edge and is not %s or an interrupt node", nodeID, EndNodeID)
		}
		visiting[nodeID] = true
		for _, e := range edges {
			if err := walk(e.Target, visiting); err != nil {
				return err
			}
		}
		delete(visiting, nodeID)
		return nil
	}
	return walk(StartNodeID, map[string]bool{})
}

// checkCycles rejects any cycle composed entirely of unconditional edges,
// since such a cycle can never terminate: nothing breaks out of it.
func checkCycles(nodes map[string]Node, outgoing map[string][]Edge) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)

	var visit func(nodeID string) error
	visit = func(nodeID string) error {
		color[nodeID] = gray
		for _, e := range outgoing[nodeID] {
			if e.Condition != "" {
				continue
			}
			switch color[e.Target] {
			case white:
				if err := visit(e.Target); err != nil {
					return err
				}
			case gray:
				return invalidf("uncontrolled cycle through %q->%q: a cycle must contain a conditional edge", nodeID, e.Target)
			}
		}
		color[nodeID] = black
		return nil
	}

	if color[StartNodeID] == white {
		if err := visit(StartNodeID); err != nil {
			return err
		}
	}
	for id := range nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func invalidf(format string, args ...any) error {
	return &apperr.ValidationError{Msg: fmt.Sprintf(format, args...)}
}
