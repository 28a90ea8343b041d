package board

import "testing"

func TestDepGraphReachable(t *testing.T) {
	graph := DepGraph{
		"a": {"b"},
		"b": {"c"},
		"c": {"d"},
	}

	t.Run("direct edge", func(t *testing.T) {
		if !graph.Reachable("a", "b") {
			t.Error("a should reach b")
		}
	})

	t.Run("transitive chain", func(t *testing.T) {
		if !graph.Reachable("a", "d") {
			t.Error("a should reach d")
		}
	})

	t.Run("no reverse reachability", func(t *testing.T) {
		if graph.Reachable("d", "a") {
			t.Error("d should not reach a")
		}
	})

	t.Run("self is trivially reachable", func(t *testing.T) {
		if !graph.Reachable("a", "a") {
			t.Error("a should reach itself")
		}
	})
}

func TestValidateEdge(t *testing.T) {
	graph := DepGraph{
		"a": {"b"},
		"b": {"c"},
	}

	t.Run("valid new edge", func(t *testing.T) {
		if terr := ValidateEdge(graph, "c", "x", false); terr != nil {
			t.Errorf("unexpected error: %v", terr)
		}
	})

	t.Run("self-loop rejected", func(t *testing.T) {
		terr := ValidateEdge(graph, "a", "a", false)
		if terr == nil || terr.Kind != KindInvalidInput {
			t.Fatalf("expected invalid_input, got %v", terr)
		}
	})

	t.Run("duplicate rejected", func(t *testing.T) {
		terr := ValidateEdge(graph, "a", "b", true)
		if terr == nil || terr.Kind != KindInvalidInput {
			t.Fatalf("expected invalid_input, got %v", terr)
		}
	})

	t.Run("direct cycle rejected", func(t *testing.T) {
		terr := ValidateEdge(graph, "b", "a", false)
		if terr == nil || terr.Kind != KindInvalidInput {
			t.Fatalf("expected invalid_input, got %v", terr)
		}
	})

	t.Run("transitive cycle rejected", func(t *testing.T) {
		// a -> b -> c exists; c -> a would close the loop.
		terr := ValidateEdge(graph, "c", "a", false)
		if terr == nil || terr.Kind != KindInvalidInput {
			t.Fatalf("expected invalid_input, got %v", terr)
		}
	})
}

func TestBlocked(t *testing.T) {
	t.Run("no predecessors", func(t *testing.T) {
		if Blocked(nil, 3) {
			t.Error("task with no predecessors should not be blocked")
		}
	})

	t.Run("all terminal", func(t *testing.T) {
		if Blocked([]int{3, 3}, 3) {
			t.Error("all-terminal predecessors should not block")
		}
	})

	t.Run("one below terminal", func(t *testing.T) {
		if !Blocked([]int{3, 1}, 3) {
			t.Error("a non-terminal predecessor should block")
		}
	})
}
