package version

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/orbitq/orbit/workflow"
)

// Change records one modified leaf in a diff.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Diff is the structural difference between two definitions. Keys are
// dotted paths into the definition document, with bracket indices for
// list elements ("tasks[2].name").
type Diff struct {
	Added    map[string]any    `json:"added,omitempty"`
	Removed  map[string]any    `json:"removed,omitempty"`
	Modified map[string]Change `json:"modified,omitempty"`
}

// Empty reports whether the two definitions were identical.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// DiffDefinitions computes the structural diff from an old definition
// to a new one. Both are compared in their canonical JSON form, so the
// result is independent of in-memory representation.
func DiffDefinitions(oldDef, newDef *workflow.Definition) (*Diff, error) {
	oldDoc, err := toDoc(oldDef)
	if err != nil {
		return nil, err
	}
	newDoc, err := toDoc(newDef)
	if err != nil {
		return nil, err
	}

	d := &Diff{
		Added:    make(map[string]any),
		Removed:  make(map[string]any),
		Modified: make(map[string]Change),
	}
	walk(d, "", oldDoc, newDoc)
	return d, nil
}

func toDoc(def *workflow.Definition) (any, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("canonicalize definition: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	return doc, nil
}

func walk(d *Diff, path string, oldVal, newVal any) {
	oldMap, oldIsMap := oldVal.(map[string]any)
	newMap, newIsMap := newVal.(map[string]any)
	if oldIsMap && newIsMap {
		for key, ov := range oldMap {
			child := joinPath(path, key)
			nv, ok := newMap[key]
			if !ok {
				d.Removed[child] = ov
				continue
			}
			walk(d, child, ov, nv)
		}
		for key, nv := range newMap {
			if _, ok := oldMap[key]; !ok {
				d.Added[joinPath(path, key)] = nv
			}
		}
		return
	}

	oldList, oldIsList := oldVal.([]any)
	newList, newIsList := newVal.([]any)
	if oldIsList && newIsList {
		shared := len(oldList)
		if len(newList) < shared {
			shared = len(newList)
		}
		for i := 0; i < shared; i++ {
			walk(d, fmt.Sprintf("%s[%d]", path, i), oldList[i], newList[i])
		}
		for i := shared; i < len(oldList); i++ {
			d.Removed[fmt.Sprintf("%s[%d]", path, i)] = oldList[i]
		}
		for i := shared; i < len(newList); i++ {
			d.Added[fmt.Sprintf("%s[%d]", path, i)] = newList[i]
		}
		return
	}

	if !reflect.DeepEqual(oldVal, newVal) {
		d.Modified[path] = Change{Old: oldVal, New: newVal}
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
