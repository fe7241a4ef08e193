package executor

import (
	"fmt"
	"sort"
)

// layering is the longest-path-to-root layering of tasks built by
// buildLayering: a task in layer L depends only on tasks in layers < L, and
// every task is placed at the layer one past its deepest dependency.
type layering struct {
	layers [][]string          // layer index -> sorted task ids
	byID   map[string]Task
	depth  map[string]int
}

func buildLayering(tasks []Task) (*layering, error) {
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		if _, dup := byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %q", t.ID)
		}
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}

	depth := make(map[string]int, len(tasks))
	visiting := make(map[string]bool, len(tasks))

	var resolve func(id string) (int, error)
	resolve = func(id string) (int, error) {
		if d, ok := depth[id]; ok {
			return d, nil
		}
		if visiting[id] {
			return 0, fmt.Errorf("cycle detected at task %q", id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		maxParent := -1
		for _, dep := range byID[id].DependsOn {
			d, err := resolve(dep)
			if err != nil {
				return 0, err
			}
			if d > maxParent {
				maxParent = d
			}
		}
		depth[id] = maxParent + 1
		return depth[id], nil
	}

	maxDepth := -1
	for id := range byID {
		d, err := resolve(id)
		if err != nil {
			return nil, err
		}
		if d > maxDepth {
			maxDepth = d
		}
	}

	layers := make([][]string, maxDepth+1)
	for id, d := range depth {
		layers[d] = append(layers[d], id)
	}
	for _, l := range layers {
		sort.Strings(l)
	}

	return &layering{layers: layers, byID: byID, depth: depth}, nil
}

// appendTasksAsLayer inserts newTasks as a single new downstream layer after
// the current last layer, skipping any id that already exists so that
// already-completed task ids stay stable across a replan.
func appendTasksAsLayer(lay *layering, newTasks []Task) {
	if len(newTasks) == 0 {
		return
	}
	newDepth := len(lay.layers)
	var ids []string
	for _, t := range newTasks {
		if _, exists := lay.byID[t.ID]; exists {
			continue
		}
		lay.byID[t.ID] = t
		lay.depth[t.ID] = newDepth
		ids = append(ids, t.ID)
	}
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)
	lay.layers = append(lay.layers, ids)
}

// descendants returns every task id reachable by following dependents of
// id, transitively, used to cascade a skip when a task errors.
func (l *layering) descendants(id string) []string {
	children := make(map[string][]string, len(l.byID))
	for tid, t := range l.byID {
		for _, dep := range t.DependsOn {
			children[dep] = append(children[dep], tid)
		}
	}

	var out []string
	seen := map[string]bool{id: true}
	queue := append([]string{}, children[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		queue = append(queue, children[cur]...)
	}
	sort.Strings(out)
	return out
}
