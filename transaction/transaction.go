// Package transaction computes the ordered set of operations needed to
// bring an installed prefix from its current state to a desired set of
// packages.
package transaction

import (
	"sort"
	"strings"

	rattler "github.com/mamba-org/rattler-go"
)

// OpKind classifies one Op.
type OpKind int

const (
	OpInstall OpKind = iota
	OpRemove
	OpChange
	OpReinstall
)

func (k OpKind) String() string {
	switch k {
	case OpInstall:
		return "install"
	case OpRemove:
		return "remove"
	case OpChange:
		return "change"
	case OpReinstall:
		return "reinstall"
	default:
		return "unknown"
	}
}

// Op is one step of a Transaction: installing a new record, removing an
// installed one, replacing one identity with differing content, or
// reapplying an unchanged one.
type Op struct {
	Kind OpKind
	Old  *rattler.PrefixRecord
	New  *rattler.RepoDataRecord
}

// Input is the set of parameters Diff needs to compute a transaction.
type Input struct {
	Current []rattler.PrefixRecord
	Desired []rattler.RepoDataRecord
	// Ignored names packages Diff must never emit a Remove for, even if
	// they're installed but not in Desired.
	Ignored map[string]bool
	// Force makes Diff emit Reinstall for packages whose identity and
	// content already match what's installed.
	Force bool
}

// Diff computes the ordered operations: removes first in reverse dependency
// order, then installs/changes in dependency order, so that applying the
// result in order never references a package identity that hasn't been
// installed yet.
func Diff(in Input) []Op {
	currentByName := make(map[string]*rattler.PrefixRecord, len(in.Current))
	for i := range in.Current {
		currentByName[in.Current[i].Name] = &in.Current[i]
	}
	desiredByName := make(map[string]*rattler.RepoDataRecord, len(in.Desired))
	for i := range in.Desired {
		desiredByName[in.Desired[i].Name] = &in.Desired[i]
	}

	known := make(map[string]bool, len(currentByName)+len(desiredByName))
	names := make([]string, 0, len(currentByName)+len(desiredByName))
	for name := range currentByName {
		if !known[name] {
			known[name] = true
			names = append(names, name)
		}
	}
	for name := range desiredByName {
		if !known[name] {
			known[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)

	depsOf := func(name string) []string {
		if d, ok := desiredByName[name]; ok {
			return dependencyNames(d.Depends)
		}
		if c, ok := currentByName[name]; ok {
			return dependencyNames(c.Depends)
		}
		return nil
	}
	order := topoSort(names, known, depsOf)

	var removes, installsOrChanges []Op
	for _, name := range order {
		desired, inDesired := desiredByName[name]
		cur, hasCurrent := currentByName[name]

		if !inDesired {
			if hasCurrent && !in.Ignored[name] {
				removes = append(removes, Op{Kind: OpRemove, Old: cur})
			}
			continue
		}
		switch {
		case !hasCurrent:
			installsOrChanges = append(installsOrChanges, Op{Kind: OpInstall, New: desired})
		case !sameIdentity(cur, desired) || cur.SHA256 != desired.SHA256:
			installsOrChanges = append(installsOrChanges, Op{Kind: OpChange, Old: cur, New: desired})
		case in.Force:
			installsOrChanges = append(installsOrChanges, Op{Kind: OpReinstall, Old: cur, New: desired})
		default:
			// Already installed, identical content, no force: no operation.
		}
	}

	ops := make([]Op, 0, len(removes)+len(installsOrChanges))
	for i := len(removes) - 1; i >= 0; i-- {
		ops = append(ops, removes[i])
	}
	ops = append(ops, installsOrChanges...)
	return ops
}

func sameIdentity(old *rattler.PrefixRecord, new *rattler.RepoDataRecord) bool {
	return old.Name == new.Name && old.Version.Equal(new.Version) && old.Build == new.Build
}

// dependencyNames extracts package names from "depends" entries such as
// "numpy >=1.20,<2", discarding the match-spec operand, by splitting on the
// first whitespace.
func dependencyNames(deps []string) []string {
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		if i := strings.IndexByte(d, ' '); i != -1 {
			out = append(out, d[:i])
		} else {
			out = append(out, d)
		}
	}
	return out
}

// topoSort orders names so every name's (known) dependencies precede it,
// via depth-first postorder traversal over lexically sorted names and
// edges. Adapted from the classic DFS topological sort idiom (visit
// unseen neighbors, append on exit); a dependency edge back to a node
// already on the current DFS stack is a cycle and is simply not
// traversed again, which breaks cycles deterministically since names are
// always visited and recursed into in sorted order.
func topoSort(names []string, known map[string]bool, depsOf func(string) []string) []string {
	order := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	onStack := make(map[string]bool, len(names))

	var visit func(name string)
	visit = func(name string) {
		if seen[name] || onStack[name] {
			return
		}
		onStack[name] = true
		deps := depsOf(name)
		sorted := append([]string(nil), deps...)
		sort.Strings(sorted)
		for _, d := range sorted {
			if known[d] {
				visit(d)
			}
		}
		onStack[name] = false
		seen[name] = true
		order = append(order, name)
	}
	for _, n := range names {
		visit(n)
	}
	return order
}
