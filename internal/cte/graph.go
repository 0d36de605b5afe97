package cte

import (
	"slices"
)

// dependencyGraph maps a CTE name to the names it reads.
type dependencyGraph map[string][]string

// order sorts CTEs so that each follows its dependencies (Kahn's
// algorithm). Among CTEs that are ready at the same time, the one created
// first goes first, so output is deterministic.
func order(ctes []CTE) ([]CTE, error) {
	position := make(map[string]int, len(ctes))
	for i, c := range ctes {
		if c.Name == "" {
			return nil, newAssemblyError(ErrCodeMissingName, "", "CTE %d has no name", i)
		}
		if _, dup := position[c.Name]; dup {
			return nil, newAssemblyError(ErrCodeDuplicateName, c.Name, "CTE %s is defined twice", c.Name)
		}
		position[c.Name] = i
	}

	graph := make(dependencyGraph, len(ctes))
	indegree := make([]int, len(ctes))
	dependents := make([][]int, len(ctes))
	for i, c := range ctes {
		seen := make(map[string]bool)
		for _, dep := range c.Dependencies {
			j, ok := position[dep]
			if !ok {
				return nil, newAssemblyError(ErrCodeDanglingReference, c.Name,
					"CTE %s depends on undefined CTE %s", c.Name, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			graph[c.Name] = append(graph[c.Name], dep)
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	// ready holds creation positions, kept sorted.
	var ready []int
	for i := range ctes {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]CTE, 0, len(ctes))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		out = append(out, ctes[i])

		for _, j := range dependents[i] {
			indegree[j]--
			if indegree[j] == 0 {
				at, _ := slices.BinarySearch(ready, j)
				ready = slices.Insert(ready, at, j)
			}
		}
	}

	if len(out) < len(ctes) {
		names := make([]string, len(ctes))
		for i, c := range ctes {
			names[i] = c.Name
		}
		cycle := findCycle(names, graph)
		return nil, &AssemblyError{
			Code:    ErrCodeCycle,
			CTE:     cycle[0],
			Message: "CTE dependencies form a cycle",
			Cycle:   cycle,
		}
	}
	return out, nil
}

// findCycle returns one cycle of the graph as a closed path. nodes fixes
// the visiting order.
func findCycle(nodes []string, graph dependencyGraph) []string {
	for _, scc := range tarjanSCC(nodes, graph) {
		if len(scc) > 1 {
			return reconstructCyclePath(scc, graph)
		}
		if hasSelfLoop(scc[0], graph) {
			return []string{scc[0], scc[0]}
		}
	}
	// Unreachable when Kahn's algorithm stalled.
	return []string{nodes[0]}
}

func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Single-node components without self-loops are not cycles.
func tarjanSCC(nodes []string, graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// Root of a component: pop it off the stack
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			// Report members in visiting order
			slices.Reverse(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// reconstructCyclePath walks edges inside an SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
