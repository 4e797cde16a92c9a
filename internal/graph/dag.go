// Package graph provides the dependency graph shared by workflow scheduling
// and design validation.
package graph

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// DAG is a dependency graph over string node IDs. Iteration follows insertion
// order so results are deterministic.
type DAG struct {
	nodes   []string
	index   map[string]int
	edges   map[string][]string // node -> dependencies
	reverse map[string][]string // node -> dependents
	mu      sync.RWMutex
}

// New creates an empty graph.
func New() *DAG {
	return &DAG{
		index:   make(map[string]int),
		edges:   make(map[string][]string),
		reverse: make(map[string][]string),
	}
}

// AddNode adds a node. Adding an existing node fails.
func (d *DAG) AddNode(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.index[id]; exists {
		return fmt.Errorf("node %s already exists", id)
	}

	d.index[id] = len(d.nodes)
	d.nodes = append(d.nodes, id)
	d.edges[id] = make([]string, 0)
	d.reverse[id] = make([]string, 0)
	return nil
}

// Has reports whether a node exists.
func (d *DAG) Has(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.index[id]
	return ok
}

// AddDependency records that from depends on to.
func (d *DAG) AddDependency(from, to string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.index[from]; !exists {
		return fmt.Errorf("node %s not found", from)
	}
	if _, exists := d.index[to]; !exists {
		return fmt.Errorf("node %s not found", to)
	}

	for _, dep := range d.edges[from] {
		if dep == to {
			return nil
		}
	}

	d.edges[from] = append(d.edges[from], to)
	d.reverse[to] = append(d.reverse[to], from)
	return nil
}

// FindCycle returns the first cycle found by depth-first search, as the node
// path that closes on itself (e.g. [A B C A]), or nil when the graph is acyclic.
func (d *DAG) FindCycle() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, dep := range d.edges[id] {
			if !visited[dep] {
				if dfs(dep) {
					return true
				}
			} else if onStack[dep] {
				for i, n := range stack {
					if n == dep {
						cycle = append(append([]string{}, stack[i:]...), dep)
						break
					}
				}
				return true
			}
		}

		onStack[id] = false
		stack = stack[:len(stack)-1]
		return false
	}

	for _, id := range d.nodes {
		if !visited[id] && dfs(id) {
			return cycle
		}
	}
	return nil
}

// TopologicalSort returns nodes with every dependency before its dependents,
// using Kahn's algorithm. Ties keep insertion order.
func (d *DAG) TopologicalSort() ([]string, error) {
	if cycle := d.FindCycle(); cycle != nil {
		return nil, cycleError(cycle)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	inDegree := make(map[string]int, len(d.nodes))
	for _, id := range d.nodes {
		inDegree[id] = len(d.edges[id])
	}

	result := make([]string, 0, len(d.nodes))
	done := make(map[string]bool, len(d.nodes))
	for len(result) < len(d.nodes) {
		progressed := false
		for _, id := range d.nodes {
			if done[id] || inDegree[id] != 0 {
				continue
			}
			done[id] = true
			result = append(result, id)
			progressed = true
			for _, dependent := range d.reverse[id] {
				inDegree[dependent]--
			}
		}
		if !progressed {
			return nil, core.ErrWorkflow(core.CodeDependencyCycle, "dependency graph contains a cycle")
		}
	}
	return result, nil
}

// Levels groups nodes into batches whose dependencies lie in earlier batches.
func (d *DAG) Levels() ([][]string, error) {
	if cycle := d.FindCycle(); cycle != nil {
		return nil, cycleError(cycle)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var levels [][]string
	assigned := make(map[string]bool, len(d.nodes))
	for len(assigned) < len(d.nodes) {
		var level []string
		for _, id := range d.nodes {
			if assigned[id] {
				continue
			}
			ready := true
			for _, dep := range d.edges[id] {
				if !assigned[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, id)
			}
		}
		for _, id := range level {
			assigned[id] = true
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// Ready returns nodes not in done whose dependencies are all in done.
func (d *DAG) Ready(done map[string]bool) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ready []string
	for _, id := range d.nodes {
		if done[id] {
			continue
		}
		ok := true
		for _, dep := range d.edges[id] {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// Dependencies returns the direct dependencies of a node.
func (d *DAG) Dependencies(id string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.edges[id]...)
}

// Dependents returns the nodes that depend directly on id.
func (d *DAG) Dependents(id string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.reverse[id]...)
}

// Len returns the number of nodes.
func (d *DAG) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

func cycleError(cycle []string) error {
	return core.ErrWorkflow(core.CodeDependencyCycle,
		fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> "))).
		WithDetail("cycle", cycle)
}
