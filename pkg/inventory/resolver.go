package inventory

import (
	"sort"
	"strings"
)

// Resolve expands a group expression into a flat, de-duplicated list of
// hosts sorted by name. The expression is a single group name or a
// comma-separated union ("web, db"). Resolution is deterministic:
// the same inventory and expression always yield the same host list.
//
// Returns UnknownGroupError when a name is absent and CycleError when
// child-group references form a cycle.
func (inv *Inventory) Resolve(expr string) ([]*Host, error) {
	names := splitGroupExpr(expr)
	if len(names) == 0 {
		return nil, &UnknownGroupError{Group: expr}
	}

	seen := make(map[string]*Host)
	for _, name := range names {
		if _, ok := inv.groups[name]; !ok {
			return nil, &UnknownGroupError{Group: name}
		}
		if err := inv.collect(name, seen, make(map[string]bool), nil); err != nil {
			return nil, err
		}
	}

	out := make([]*Host, 0, len(seen))
	for _, h := range seen {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Intersect returns the hosts present in both expressions. Used by
// --limit, which narrows a plan's own target expression.
func (inv *Inventory) Intersect(expr, limit string) ([]*Host, error) {
	base, err := inv.Resolve(expr)
	if err != nil {
		return nil, err
	}
	narrow, err := inv.Resolve(limit)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(narrow))
	for _, h := range narrow {
		allowed[h.Name] = true
	}

	out := make([]*Host, 0, len(base))
	for _, h := range base {
		if allowed[h.Name] {
			out = append(out, h)
		}
	}
	return out, nil
}

// collect walks the group DAG depth-first, accumulating member hosts.
// visiting tracks the active descent path for cycle detection; the
// special case AllGroup short-circuits to every host.
func (inv *Inventory) collect(name string, seen map[string]*Host, visiting map[string]bool, path []string) error {
	if visiting[name] {
		return &CycleError{Path: append(append([]string{}, path...), name)}
	}

	g, ok := inv.groups[name]
	if !ok {
		return &UnknownGroupError{Group: name}
	}

	if name == AllGroup {
		for _, h := range inv.hosts {
			seen[h.Name] = h
		}
		return nil
	}

	visiting[name] = true
	path = append(path, name)

	for _, hostName := range g.Hosts {
		if h, ok := inv.hosts[hostName]; ok {
			seen[h.Name] = h
		}
	}
	for _, child := range g.Children {
		if err := inv.collect(child, seen, visiting, path); err != nil {
			return err
		}
	}

	delete(visiting, name)
	return nil
}

// splitGroupExpr splits a comma-separated group expression, trimming
// whitespace and dropping empty segments.
func splitGroupExpr(expr string) []string {
	parts := strings.Split(expr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
