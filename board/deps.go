package board

// Dependency engine: edge validation, cycle detection, and block
// evaluation over the task dependency DAG. The graph algorithms are pure;
// the store supplies the adjacency data.

// DepGraph is an adjacency map from predecessor task id to successor task
// ids, covering every stored dependency edge.
type DepGraph map[string][]string

// Reachable reports whether to can be reached from from by following
// edges forward. Uses iterative BFS; the graph is acyclic by invariant
// but the visited set also guards against malformed input.
func (g DepGraph) Reachable(from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{from: true}
	frontier := []string{from}
	for len(frontier) > 0 {
		node := frontier[0]
		frontier = frontier[1:]
		for _, succ := range g[node] {
			if succ == to {
				return true
			}
			if !visited[succ] {
				visited[succ] = true
				frontier = append(frontier, succ)
			}
		}
	}
	return false
}

// ValidateEdge checks a prospective predecessor -> successor edge against
// the current graph. exists reports whether the exact edge is already
// stored. Rejections are invalid_input: self-loops, duplicates, and any
// edge that would introduce a cycle (predecessor reachable from
// successor).
func ValidateEdge(g DepGraph, predecessorID, successorID string, exists bool) *ToolError {
	if predecessorID == successorID {
		return InvalidInputf("a task cannot depend on itself")
	}
	if exists {
		return InvalidInputf("dependency %s -> %s already exists", predecessorID, successorID)
	}
	if g.Reachable(successorID, predecessorID) {
		return InvalidInputf("dependency %s -> %s would create a cycle", predecessorID, successorID)
	}
	return nil
}

// Blocked reports whether a task with the given predecessor step
// positions is blocked: true iff any predecessor sits below the project's
// terminal position. A task with no predecessors is never blocked.
func Blocked(predecessorPositions []int, terminalPosition int) bool {
	for _, pos := range predecessorPositions {
		if pos < terminalPosition {
			return true
		}
	}
	return false
}
