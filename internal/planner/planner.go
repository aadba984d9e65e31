// Package planner computes the build plan from core spec §4.5: a
// depth-first traversal from the requested root elements that visits
// runtime dependencies at the current depth and build dependencies one
// level deeper, detects dependency cycles, and finally sorts the
// visited elements by depth descending so that a flat build order can
// be handed to the pipeline.
//
// Grounded in dalec's graph.go, which walked a dependency.Item tree
// with an explicit on-stack set for cycle detection and
// k8s.io/apimachinery/pkg/util/sets for membership bookkeeping; the
// stack itself is github.com/pmengelbert/stack, the same generic stack
// dalec's graph traversal used.
package planner

import (
	"fmt"
	"sort"

	"github.com/pmengelbert/stack"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Node is the minimal view the planner needs of an element: its name,
// its runtime dependency names, and its build dependency names. The
// caller (the root forge package) adapts *Element to this interface.
type Node interface {
	Name() string
	RuntimeDepNames() []string
	BuildDepNames() []string
	// Cached reports whether this element's strong key already has a
	// cached artifact; cached elements are leaves for planning purposes
	// (core spec §4.5: "drop cached elements from the plan unless
	// ignore_cache").
	Cached() bool
	IgnoreCache() bool
}

// Lookup resolves an element name to its Node, returning false if the
// element is unknown.
type Lookup func(name string) (Node, bool)

// CycleError reports a dependency cycle discovered during planning,
// naming the path that closed the loop.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("planner: dependency cycle: %v", e.Path)
}

// Plan computes the flat, depth-descending build order for roots.
// Each returned name appears exactly once, at the greatest depth it
// was reached from any root.
//
// Cycle detection follows the on-stack discipline of dalec's
// topSort: path is a real github.com/pmengelbert/stack.Stack pushed
// and popped around each visit, and onStack is the
// k8s.io/apimachinery membership set used to test it in O(1) without
// walking the stack itself.
func Plan(roots []string, lookup Lookup) ([]string, error) {
	depths := make(map[string]int)
	dropped := sets.NewString()
	onStack := sets.NewString()
	path := stack.New[string]()
	var pathNames []string

	var visit func(name string, depth int) error
	visit = func(name string, depth int) error {
		if onStack.Has(name) {
			return &CycleError{Path: append(append([]string(nil), pathNames...), name)}
		}

		if existing, seen := depths[name]; seen && existing >= depth {
			return nil
		}
		depths[name] = depth

		node, ok := lookup(name)
		if !ok {
			return fmt.Errorf("planner: unknown element %q", name)
		}

		if node.Cached() && !node.IgnoreCache() {
			// Cached elements are dropped from the final plan (core spec
			// §4.5 step 5: "drop elements already cached unless
			// ignore_cache"), but depths[name] stays recorded above so a
			// later visit at a shallower-or-equal depth still short-circuits
			// here instead of re-walking this subtree.
			dropped.Insert(name)
			return nil
		}

		onStack.Insert(name)
		path.Push(name)
		pathNames = append(pathNames, name)

		for _, rt := range node.RuntimeDepNames() {
			if err := visit(rt, depth); err != nil {
				return err
			}
		}
		for _, bd := range node.BuildDepNames() {
			if err := visit(bd, depth+1); err != nil {
				return err
			}
		}

		path.Pop()
		pathNames = pathNames[:len(pathNames)-1]
		onStack.Delete(name)
		return nil
	}

	for _, root := range roots {
		if err := visit(root, 0); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(depths))
	for name := range depths {
		if dropped.Has(name) {
			continue
		}
		names = append(names, name)
	}

	sortByDepthDescThenName(names, depths)
	return names, nil
}

// sortByDepthDescThenName orders names by depth descending (deepest,
// i.e. most-depended-on, first) and breaks ties alphabetically for a
// deterministic plan, matching core spec §4.5's "process deepest
// first" rule.
func sortByDepthDescThenName(names []string, depths map[string]int) {
	sort.Slice(names, func(i, j int) bool {
		di, dj := depths[names[i]], depths[names[j]]
		if di != dj {
			return di > dj
		}
		return names[i] < names[j]
	})
}
