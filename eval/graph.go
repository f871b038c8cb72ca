package eval

import (
	"fmt"
	"sort"
	"strings"
)

// GraphEdge connects a producing socket to a consuming socket.
type GraphEdge struct {
	ID           int    `json:"id"`
	FromNodeID   int    `json:"from_node_id"`
	FromSocketID string `json:"from_socket_id"`
	ToNodeID     int    `json:"to_node_id"`
	ToSocketID   string `json:"to_socket_id"`
}

// ComputeGraph is a directed acyclic graph of typed steps. Lowering it
// produces the assembled program text and file set for one test case.
//
// Structural invariants, enforced by Lower:
//   - exactly one OUTPUT node
//   - every edge runs from an existing output socket of its producer
//     to an existing input socket of its consumer
//   - every input socket of every node reachable (backwards) from the
//     OUTPUT node is bound by exactly one incoming edge or carries
//     literal data
//   - the reachable closure is acyclic
//
// Producers not reachable from the OUTPUT node are allowed but warned.
type ComputeGraph struct {
	Nodes []Step      `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// LoweredProgram is the result of lowering a compute graph: the
// sandbox-wrapped program text and the de-duplicated file set
// referenced by the graph. Files are ordered by name so the result is
// reproducible byte for byte.
type LoweredProgram struct {
	Text  string
	Files []File
}

// Lower validates the graph spliced with the synthesised user-input
// step and lowers it to an assembled program. The same graph and input
// always produce byte-identical output: node order is the topological
// order of the backward closure from OUTPUT with ascending node-id
// tie-break, and the file set is sorted by name.
//
// The returned warnings describe tolerated defects (dangling
// producers). All violations of the structural rules return an error
// matching ErrGraphInvalid.
func (g *ComputeGraph) Lower(userInput Step) (LoweredProgram, []string, error) {
	nodes := make([]Step, 0, len(g.Nodes)+1)
	nodes = append(nodes, g.Nodes...)
	nodes = append(nodes, userInput)

	index := make(map[int]*Step, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if _, dup := index[n.ID]; dup {
			return LoweredProgram{}, nil, graphInvalid("duplicate node id %d", n.ID)
		}
		if err := n.validateSockets(); err != nil {
			return LoweredProgram{}, nil, err
		}
		index[n.ID] = n
	}

	var outputID int
	outputs := 0
	for _, n := range nodes {
		if n.Type == StepOutput {
			outputID = n.ID
			outputs++
		}
	}
	if outputs != 1 {
		return LoweredProgram{}, nil, graphInvalid("expected exactly 1 output step, found %d", outputs)
	}

	inEdges := make(map[int][]GraphEdge)
	outEdges := make(map[int][]GraphEdge)
	for _, e := range g.Edges {
		from, ok := index[e.FromNodeID]
		if !ok {
			return LoweredProgram{}, nil, graphInvalid("edge %d: unknown from node %d", e.ID, e.FromNodeID)
		}
		to, ok := index[e.ToNodeID]
		if !ok {
			return LoweredProgram{}, nil, graphInvalid("edge %d: unknown to node %d", e.ID, e.ToNodeID)
		}
		if from.outputSocket(e.FromSocketID) == nil {
			return LoweredProgram{}, nil, graphInvalid("edge %d: node %d has no output socket %q", e.ID, e.FromNodeID, e.FromSocketID)
		}
		if to.inputSocket(e.ToSocketID) == nil {
			return LoweredProgram{}, nil, graphInvalid("edge %d: node %d has no input socket %q", e.ID, e.ToNodeID, e.ToSocketID)
		}
		inEdges[e.ToNodeID] = append(inEdges[e.ToNodeID], e)
		outEdges[e.FromNodeID] = append(outEdges[e.FromNodeID], e)
	}

	reachable := backwardClosure(outputID, inEdges)

	var warnings []string
	for _, n := range nodes {
		if _, ok := reachable[n.ID]; !ok {
			warnings = append(warnings, fmt.Sprintf("node %d (%s) is not reachable from the output step", n.ID, n.Type))
		}
	}

	// Every consumed socket of a reachable node must be produced
	// exactly once, either by an edge or by literal socket data.
	for id := range reachable {
		n := index[id]
		bound := make(map[string]int)
		for _, e := range inEdges[id] {
			bound[e.ToSocketID]++
		}
		for _, sock := range n.Inputs {
			switch {
			case bound[sock.ID] > 1:
				return LoweredProgram{}, nil, graphInvalid("node %d: input socket %q bound by %d edges", id, sock.ID, bound[sock.ID])
			case bound[sock.ID] == 0 && sock.Data == nil:
				return LoweredProgram{}, nil, graphInvalid("node %d: input socket %q is unbound and has no data", id, sock.ID)
			}
		}
	}

	order, err := topoOrder(reachable, outEdges)
	if err != nil {
		return LoweredProgram{}, nil, err
	}

	var blocks []string
	for _, id := range order {
		n := index[id]
		gen, ok := stepCodegens[n.Type]
		if !ok {
			return LoweredProgram{}, nil, graphInvalid("node %d: unknown step type %q", id, n.Type)
		}

		in := codegenInputs{vars: map[string]string{}, files: map[string]File{}}
		for _, e := range inEdges[id] {
			producer := index[e.FromNodeID]
			fromSock := producer.outputSocket(e.FromSocketID)
			if fromSock.Data != nil && fromSock.Data.IsFile() {
				in.files[e.ToSocketID] = fromSock.Data.File
			} else {
				in.vars[e.ToSocketID] = symbol(e.FromNodeID, e.FromSocketID)
			}
		}
		for _, sock := range n.Inputs {
			if _, viaEdge := in.vars[sock.ID]; viaEdge {
				continue
			}
			if _, viaEdge := in.files[sock.ID]; viaEdge {
				continue
			}
			if sock.Data == nil {
				continue
			}
			if sock.Data.IsFile() {
				in.files[sock.ID] = sock.Data.File
			} else {
				in.vars[sock.ID] = sock.Data.PyLiteral()
			}
		}

		frag, err := gen(n, in)
		if err != nil {
			return LoweredProgram{}, nil, err
		}
		lines := append([]string{fmt.Sprintf("# step %d: %s", id, n.Type)}, frag...)
		blocks = append(blocks, strings.Join(lines, "\n"))
	}

	files, err := collectFiles(nodes)
	if err != nil {
		return LoweredProgram{}, nil, err
	}

	return LoweredProgram{
		Text:  sandboxWrap(strings.Join(blocks, "\n\n")),
		Files: files,
	}, warnings, nil
}

// backwardClosure returns the set of node ids reachable from the
// output node by walking edges backwards.
func backwardClosure(outputID int, inEdges map[int][]GraphEdge) map[int]struct{} {
	reachable := map[int]struct{}{outputID: {}}
	frontier := []int{outputID}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, e := range inEdges[id] {
			if _, seen := reachable[e.FromNodeID]; !seen {
				reachable[e.FromNodeID] = struct{}{}
				frontier = append(frontier, e.FromNodeID)
			}
		}
	}
	return reachable
}

// topoOrder runs Kahn's algorithm over the reachable subgraph. The
// ready queue is kept sorted ascending by node id so the emitted order
// is deterministic. A non-empty remainder means a cycle.
func topoOrder(reachable map[int]struct{}, outEdges map[int][]GraphEdge) ([]int, error) {
	inDegree := make(map[int]int, len(reachable))
	for id := range reachable {
		inDegree[id] = 0
	}
	for id := range reachable {
		for _, e := range outEdges[id] {
			if _, ok := reachable[e.ToNodeID]; ok {
				inDegree[e.ToNodeID]++
			}
		}
	}

	var ready []int
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Ints(ready)

	order := make([]int, 0, len(reachable))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, e := range outEdges[id] {
			if _, ok := reachable[e.ToNodeID]; !ok {
				continue
			}
			inDegree[e.ToNodeID]--
			if inDegree[e.ToNodeID] == 0 {
				ready = append(ready, e.ToNodeID)
				sort.Ints(ready)
			}
		}
	}

	if len(order) != len(reachable) {
		return nil, graphInvalid("graph has a cycle")
	}
	return order, nil
}

// collectFiles gathers every file artifact referenced anywhere in the
// graph, de-duplicated by name. The same name with differing content
// is a package-assembly failure.
func collectFiles(nodes []Step) ([]File, error) {
	byName := make(map[string]File)
	for _, n := range nodes {
		for _, sock := range append(append([]StepSocket{}, n.Inputs...), n.Outputs...) {
			if sock.Data == nil || !sock.Data.IsFile() {
				continue
			}
			f := sock.Data.File
			if prev, ok := byName[f.FileName]; ok {
				if prev.Content != f.Content {
					return nil, graphInvalid("conflicting contents for file %q", f.FileName)
				}
				continue
			}
			byName[f.FileName] = f
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		files = append(files, byName[name])
	}
	return files, nil
}
