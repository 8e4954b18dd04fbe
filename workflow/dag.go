package workflow

import "fmt"

// TopoSort performs a layered topological sort over the task dependency
// graph. The result is an ordered sequence of layers; every task in a
// layer has all of its dependencies satisfied by earlier layers, and the
// tasks within one layer are mutually independent, so a runner may
// execute them in parallel.
//
// Intra-layer order is unspecified and callers must not rely on it.
//
// Returns ErrUnknownDependency when a dependency names no sibling task,
// and ErrCycle when the graph is not acyclic. TopoSort is pure: it
// performs no I/O and does not mutate the tasks.
func TopoSort(tasks []*Task) ([][]string, error) {
	byName := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byName[t.Name] = t
	}

	inDegree := make(map[string]int, len(tasks))
	adjacency := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		inDegree[t.Name] = 0
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, NewError("UNKNOWN_DEPENDENCY",
					fmt.Sprintf("task %q depends on non-existent task %q", t.Name, dep),
					ErrUnknownDependency)
			}
			adjacency[dep] = append(adjacency[dep], t.Name)
			inDegree[t.Name]++
		}
	}

	// Working set: all tasks with no unsatisfied dependencies.
	frontier := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if inDegree[t.Name] == 0 {
			frontier = append(frontier, t.Name)
		}
	}

	var layers [][]string
	processed := 0
	for len(frontier) > 0 {
		layer := frontier
		frontier = nil
		layers = append(layers, layer)

		for _, name := range layer {
			processed++
			for _, dependent := range adjacency[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					frontier = append(frontier, dependent)
				}
			}
		}
	}

	if processed != len(tasks) {
		return nil, NewError("CYCLE",
			"circular dependency detected in workflow", ErrCycle)
	}
	return layers, nil
}

// ValidateDAG verifies that the task graph is a valid DAG without
// returning the layers. Creation paths call this before persisting.
func ValidateDAG(tasks []*Task) error {
	_, err := TopoSort(tasks)
	return err
}
