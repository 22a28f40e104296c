package inventory

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// sectionKind distinguishes plain host sections from :children sections.
type sectionKind int

const (
	sectionHosts sectionKind = iota
	sectionChildren
)

// Load reads and parses an inventory file from disk.
func Load(path string) (*Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory: %w", err)
	}
	defer f.Close()

	inv, err := Parse(f)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.File = path
		}
		return nil, err
	}
	return inv, nil
}

// Parse parses an INI-style inventory from a reader.
//
// The format supports group headers ([web]), nested group sections
// ([web:children]) and per-host inline variables:
//
//	[web]
//	web1 address=10.0.0.11 user=deploy
//	web2 address=10.0.0.12
//
//	[app:children]
//	web
func Parse(r io.Reader) (*Inventory, error) {
	inv := &Inventory{
		hosts:  make(map[string]*Host),
		groups: make(map[string]*Group),
	}
	inv.groups[AllGroup] = &Group{Name: AllGroup}
	inv.groups[UngroupedGroup] = &Group{Name: UngroupedGroup}

	currentGroup := UngroupedGroup
	currentKind := sectionHosts

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, &ParseError{Line: lineNo, Message: "unterminated section header"}
			}
			name := line[1 : len(line)-1]
			kind := sectionHosts
			if strings.HasSuffix(name, ":children") {
				name = strings.TrimSuffix(name, ":children")
				kind = sectionChildren
			}
			name = strings.TrimSpace(name)
			if name == "" {
				return nil, &ParseError{Line: lineNo, Message: "empty group name"}
			}
			if name == AllGroup || name == UngroupedGroup {
				return nil, &ParseError{Line: lineNo, Message: fmt.Sprintf("group name %q is reserved", name)}
			}
			inv.ensureGroup(name)
			currentGroup = name
			currentKind = kind
			continue
		}

		switch currentKind {
		case sectionChildren:
			child := line
			if strings.ContainsAny(child, " \t=") {
				return nil, &ParseError{Line: lineNo, Message: "children entries must be bare group names"}
			}
			inv.ensureGroup(child)
			inv.addChild(currentGroup, child)
		default:
			if err := inv.addHostLine(currentGroup, line); err != nil {
				return nil, &ParseError{Line: lineNo, Message: err.Error()}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	return inv, nil
}

// stripComment removes trailing # or ; comments.
func stripComment(line string) string {
	for _, marker := range []string{"#", ";"} {
		if idx := strings.Index(line, marker); idx >= 0 {
			line = line[:idx]
		}
	}
	return line
}

// ensureGroup creates the group if it does not exist yet. Children may
// be referenced before their own section appears.
func (inv *Inventory) ensureGroup(name string) *Group {
	if g, ok := inv.groups[name]; ok {
		return g
	}
	g := &Group{Name: name}
	inv.groups[name] = g
	return g
}

// addChild records a child reference, de-duplicated.
func (inv *Inventory) addChild(parent, child string) {
	g := inv.groups[parent]
	for _, existing := range g.Children {
		if existing == child {
			return
		}
	}
	g.Children = append(g.Children, child)
}

// addHostLine parses a host declaration line and merges it into the
// inventory. Repeated declarations of the same host merge their vars.
func (inv *Inventory) addHostLine(group, line string) error {
	fields := strings.Fields(line)
	name := fields[0]
	if strings.Contains(name, "=") {
		return fmt.Errorf("host line must start with a host name, got %q", name)
	}

	h, ok := inv.hosts[name]
	if !ok {
		h = &Host{
			Name:    name,
			Address: name,
			Port:    22,
		}
		inv.hosts[name] = h
		inv.groups[AllGroup].Hosts = append(inv.groups[AllGroup].Hosts, name)
	}

	for _, kv := range fields[1:] {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return fmt.Errorf("malformed variable %q, want key=value", kv)
		}
		h.applyVar(parts[0], parts[1])
	}

	g := inv.groups[group]
	member := false
	for _, existing := range g.Hosts {
		if existing == name {
			member = true
			break
		}
	}
	if !member {
		g.Hosts = append(g.Hosts, name)
	}
	member = false
	for _, existing := range h.Groups {
		if existing == group {
			member = true
			break
		}
	}
	if !member {
		h.Groups = append(h.Groups, group)
	}

	return nil
}
