package weaver

import "github.com/kamojiro/weaver/internal/ids"

// depGraph is a directed graph over task ids: forward edges record "task
// waits for {tasks}" and reverse edges record "task is waited on by
// {tasks}". Both are kept mutually consistent on every mutation: there is
// exactly one code path that touches either map, addEdge/removeEdge below,
// and both always update both maps under the caller's lock (the enclosing
// Store's, not a lock of its own: the graph is interior state, never
// exposed mutably).
type depGraph struct {
	forward map[ids.TaskID]map[ids.TaskID]struct{} // task -> deps it waits for
	reverse map[ids.TaskID]map[ids.TaskID]struct{} // task -> waiters
}

func newDepGraph() *depGraph {
	return &depGraph{
		forward: make(map[ids.TaskID]map[ids.TaskID]struct{}),
		reverse: make(map[ids.TaskID]map[ids.TaskID]struct{}),
	}
}

// clone returns a deep copy, used to stage a batch of candidate edges (a
// whole job's dependency declarations) so a rejected submission never
// mutates the live graph.
func (g *depGraph) clone() *depGraph {
	out := newDepGraph()
	for task, deps := range g.forward {
		copied := make(map[ids.TaskID]struct{}, len(deps))
		for dep := range deps {
			copied[dep] = struct{}{}
		}
		out.forward[task] = copied
	}
	for task, waiters := range g.reverse {
		copied := make(map[ids.TaskID]struct{}, len(waiters))
		for w := range waiters {
			copied[w] = struct{}{}
		}
		out.reverse[task] = copied
	}
	return out
}

// addEdge records that task waits for dep. It rejects self-edges and edges
// that would create a cycle, leaving the graph unmodified in either case.
func (g *depGraph) addEdge(task, dep ids.TaskID) error {
	if task == dep {
		return ErrSelfDependency
	}
	// A new edge task->dep creates a cycle iff dep can already reach task
	// (i.e. dep transitively depends on task already).
	if g.reaches(dep, task) {
		return ErrDependencyCycle
	}

	if g.forward[task] == nil {
		g.forward[task] = make(map[ids.TaskID]struct{})
	}
	g.forward[task][dep] = struct{}{}

	if g.reverse[dep] == nil {
		g.reverse[dep] = make(map[ids.TaskID]struct{})
	}
	g.reverse[dep][task] = struct{}{}

	return nil
}

// removeEdge removes the task->dep edge (if present) and reports whether
// task now has zero remaining dependencies, the trigger for enqueueing a
// Queued task to the ready FIFO.
func (g *depGraph) removeEdge(task, dep ids.TaskID) (nowReady bool) {
	if deps, ok := g.forward[task]; ok {
		delete(deps, dep)
		if len(deps) == 0 {
			delete(g.forward, task)
		}
	}
	if waiters, ok := g.reverse[dep]; ok {
		delete(waiters, task)
		if len(waiters) == 0 {
			delete(g.reverse, dep)
		}
	}
	return !g.hasDeps(task)
}

// waitersOf returns the tasks currently waiting on task.
func (g *depGraph) waitersOf(task ids.TaskID) []ids.TaskID {
	return setKeys(g.reverse[task])
}

// depsOf returns the tasks task is currently waiting for.
func (g *depGraph) depsOf(task ids.TaskID) []ids.TaskID {
	return setKeys(g.forward[task])
}

// hasDeps reports whether task has any unresolved dependency.
func (g *depGraph) hasDeps(task ids.TaskID) bool {
	return len(g.forward[task]) > 0
}

func setKeys(m map[ids.TaskID]struct{}) []ids.TaskID {
	if len(m) == 0 {
		return nil
	}
	out := make([]ids.TaskID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// color is the three-color DFS marker used by detectCycle (reaches only
// needs a plain visited set).
type color uint8

const (
	white color = iota
	gray
	black
)

// reaches reports whether a path from -> ... -> to exists along forward
// edges (i.e. "from transitively depends on to").
func (g *depGraph) reaches(from, to ids.TaskID) bool {
	if from == to {
		return true
	}
	visited := make(map[ids.TaskID]bool)
	var dfs func(ids.TaskID) bool
	dfs = func(node ids.TaskID) bool {
		if node == to {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for dep := range g.forward[node] {
			if dfs(dep) {
				return true
			}
		}
		return false
	}
	return dfs(from)
}

// detectCycle runs a standard three-color depth-first search over the
// whole graph, tracking the current DFS path, and returns the first cycle
// found as a path whose first and last element coincide. A cycle-free
// graph returns (nil, false).
//
// Earlier task orchestrators in this codebase used an iterative
// per-start-node "visited clone" variant that happened to work but cost
// O(V·E); this is the textbook White/Gray/Black coloring instead.
func (g *depGraph) detectCycle() ([]ids.TaskID, bool) {
	colors := make(map[ids.TaskID]color)
	var path []ids.TaskID

	nodes := make(map[ids.TaskID]struct{})
	for task := range g.forward {
		nodes[task] = struct{}{}
	}
	for task := range g.reverse {
		nodes[task] = struct{}{}
	}

	var dfs func(ids.TaskID) []ids.TaskID
	dfs = func(node ids.TaskID) []ids.TaskID {
		colors[node] = gray
		path = append(path, node)

		for dep := range g.forward[node] {
			switch colors[dep] {
			case white:
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			case gray:
				// Found a back-edge into the current path: the cycle is
				// the path slice from dep's first occurrence to here,
				// closed by repeating dep.
				start := indexOf(path, dep)
				cycle := append([]ids.TaskID(nil), path[start:]...)
				return append(cycle, dep)
			case black:
				// already fully explored, no cycle through here
			}
		}

		colors[node] = black
		path = path[:len(path)-1]
		return nil
	}

	for node := range nodes {
		if colors[node] == white {
			if cycle := dfs(node); cycle != nil {
				return cycle, true
			}
		}
	}
	return nil, false
}

func indexOf(path []ids.TaskID, target ids.TaskID) int {
	for i, id := range path {
		if id == target {
			return i
		}
	}
	return 0
}
