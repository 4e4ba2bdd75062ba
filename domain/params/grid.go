// Package params models hyperparameter search spaces and the resolved
// configurations grid search produces from them.
package params

import (
	"fmt"
	"reflect"
	"sort"

	"covbench/domain/core"
)

// Grid maps a hyperparameter name to either a fixed scalar or a list of
// candidate values. Lists may be []interface{} (as decoded from JSON/YAML) or any
// typed slice or array.
type Grid map[string]interface{}

// candidates returns the candidate list for a value and whether it is a list.
func candidates(v interface{}) ([]interface{}, bool) {
	if list, ok := v.([]interface{}); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Keys returns the grid keys in sorted order.
func (g Grid) Keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Varying returns the sorted keys whose value is a candidate list.
func (g Grid) Varying() []string {
	var keys []string
	for _, k := range g.Keys() {
		if _, ok := candidates(g[k]); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Validate rejects grids containing an empty candidate list.
func (g Grid) Validate() error {
	for _, k := range g.Keys() {
		if list, ok := candidates(g[k]); ok && len(list) == 0 {
			return fmt.Errorf("%w: %s", core.ErrEmptyCandidates, k)
		}
	}
	return nil
}

// Size returns the number of candidate configurations the grid expands to.
func (g Grid) Size() int {
	size := 1
	for _, k := range g.Varying() {
		list, _ := candidates(g[k])
		size *= len(list)
	}
	return size
}

// Candidates expands the Cartesian product over every list-valued key. Keys are
// taken in sorted order and the last varying key changes fastest. Fixed keys are
// copied into every candidate. A grid without list-valued keys yields exactly one
// candidate.
func (g Grid) Candidates() ([]Config, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	fixed := make(map[string]interface{})
	varying := g.Varying()
	lists := make([][]interface{}, len(varying))
	for i, k := range varying {
		lists[i], _ = candidates(g[k])
	}
	for k, v := range g {
		if _, ok := candidates(v); !ok {
			fixed[k] = v
		}
	}

	out := make([]Config, 0, g.Size())
	idx := make([]int, len(varying))
	for {
		values := make(map[string]interface{}, len(g))
		for k, v := range fixed {
			values[k] = v
		}
		for i, k := range varying {
			values[k] = lists[i][idx[i]]
		}
		out = append(out, Config{values: values})

		// odometer increment, last key fastest
		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(lists[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}
	return out, nil
}

// Require checks every key is present in the grid.
func (g Grid) Require(keys ...string) error {
	for _, k := range keys {
		if _, ok := g[k]; !ok {
			return core.NewMissingParamError(k)
		}
	}
	return nil
}

// Clone returns a shallow copy of the grid.
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for k, v := range g {
		out[k] = v
	}
	return out
}
