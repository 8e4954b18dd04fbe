package workflow_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/orbitq/orbit/workflow"
)

func makeTasks(spec map[string][]string) []*workflow.Task {
	wfID := uuid.New()
	tasks := make([]*workflow.Task, 0, len(spec))
	for name, deps := range spec {
		tasks = append(tasks, workflow.NewTask(wfID, name, "noop", nil, deps))
	}
	return tasks
}

// layerIndex maps each task name to the index of the layer containing it.
func layerIndex(layers [][]string) map[string]int {
	idx := make(map[string]int)
	for i, layer := range layers {
		for _, name := range layer {
			idx[name] = i
		}
	}
	return idx
}

func TestTopoSortLinear(t *testing.T) {
	tasks := makeTasks(map[string][]string{
		"A": nil,
		"B": {"A"},
		"C": {"B"},
	})

	layers, err := workflow.TopoSort(tasks)
	if err != nil {
		t.Fatalf("TopoSort returned error: %v", err)
	}
	if len(layers) != 3 {
		t.Fatalf("expected 3 layers, got %d: %v", len(layers), layers)
	}
	for i, want := range []string{"A", "B", "C"} {
		if len(layers[i]) != 1 || layers[i][0] != want {
			t.Errorf("layer %d = %v, want [%s]", i, layers[i], want)
		}
	}
}

func TestTopoSortDiamond(t *testing.T) {
	tasks := makeTasks(map[string][]string{
		"fetch": nil,
		"p1":    {"fetch"},
		"p2":    {"fetch"},
		"merge": {"p1", "p2"},
	})

	layers, err := workflow.TopoSort(tasks)
	if err != nil {
		t.Fatalf("TopoSort returned error: %v", err)
	}
	if len(layers) != 3 {
		t.Fatalf("expected 3 layers, got %d: %v", len(layers), layers)
	}
	if len(layers[0]) != 1 || layers[0][0] != "fetch" {
		t.Errorf("layer 0 = %v, want [fetch]", layers[0])
	}
	if len(layers[1]) != 2 {
		t.Errorf("layer 1 = %v, want p1 and p2", layers[1])
	}
	if len(layers[2]) != 1 || layers[2][0] != "merge" {
		t.Errorf("layer 2 = %v, want [merge]", layers[2])
	}
}

// Every dependency of a task in layer j must live in some layer k < j.
func TestTopoSortDependencyInvariant(t *testing.T) {
	tasks := makeTasks(map[string][]string{
		"a": nil,
		"b": nil,
		"c": {"a", "b"},
		"d": {"c"},
		"e": {"a"},
		"f": {"d", "e"},
	})

	layers, err := workflow.TopoSort(tasks)
	if err != nil {
		t.Fatalf("TopoSort returned error: %v", err)
	}

	idx := layerIndex(layers)
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			if idx[dep] >= idx[task.Name] {
				t.Errorf("dependency %q (layer %d) not before %q (layer %d)",
					dep, idx[dep], task.Name, idx[task.Name])
			}
		}
	}
}

func TestTopoSortCycle(t *testing.T) {
	tests := []struct {
		name string
		spec map[string][]string
	}{
		{"two node cycle", map[string][]string{"A": {"B"}, "B": {"A"}}},
		{"self loop", map[string][]string{"A": {"A"}}},
		{"cycle behind valid prefix", map[string][]string{
			"start": nil,
			"x":     {"start", "z"},
			"y":     {"x"},
			"z":     {"y"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := workflow.TopoSort(makeTasks(tt.spec))
			if !errors.Is(err, workflow.ErrCycle) {
				t.Fatalf("expected ErrCycle, got %v", err)
			}
		})
	}
}

func TestTopoSortUnknownDependency(t *testing.T) {
	tasks := makeTasks(map[string][]string{
		"A": nil,
		"B": {"missing"},
	})

	_, err := workflow.TopoSort(tasks)
	if !errors.Is(err, workflow.ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}

	var werr *workflow.Error
	if !errors.As(err, &werr) {
		t.Fatalf("expected *workflow.Error, got %T", err)
	}
	if werr.Code != "UNKNOWN_DEPENDENCY" {
		t.Errorf("code = %q, want UNKNOWN_DEPENDENCY", werr.Code)
	}
}

func TestTopoSortEmpty(t *testing.T) {
	layers, err := workflow.TopoSort(nil)
	if err != nil {
		t.Fatalf("TopoSort(nil) returned error: %v", err)
	}
	if len(layers) != 0 {
		t.Fatalf("expected no layers, got %v", layers)
	}
}

func TestValidateDAG(t *testing.T) {
	good := makeTasks(map[string][]string{"A": nil, "B": {"A"}})
	if err := workflow.ValidateDAG(good); err != nil {
		t.Errorf("ValidateDAG(good) = %v, want nil", err)
	}

	bad := makeTasks(map[string][]string{"A": {"B"}, "B": {"A"}})
	if err := workflow.ValidateDAG(bad); err == nil {
		t.Error("ValidateDAG(cycle) = nil, want error")
	}
}
