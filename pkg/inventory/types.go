package inventory

import (
	"sort"
	"strconv"
)

// Host represents one target endpoint from the inventory.
// Hosts are created at parse time and are immutable for the duration
// of a run.
type Host struct {
	// Name is the inventory name of the host.
	Name string `json:"name"`

	// Address is the connection address. Defaults to Name when no
	// address var is given.
	Address string `json:"address"`

	// Port is the SSH port (default: 22).
	Port int `json:"port"`

	// User is the login user.
	User string `json:"user,omitempty"`

	// Password is the login password, if password auth is used.
	Password string `json:"-"`

	// KeyPath is the path to the private key file.
	KeyPath string `json:"key_path,omitempty"`

	// Vars holds the remaining per-host inline variables.
	Vars map[string]string `json:"vars,omitempty"`

	// Groups lists the group names this host belongs to directly.
	Groups []string `json:"groups"`
}

// Group is a named set of hosts and/or child group references.
// Group references form a DAG; cycles are rejected at resolve time.
type Group struct {
	// Name is the group name.
	Name string

	// Hosts are the names of hosts that are direct members.
	Hosts []string

	// Children are the names of child groups.
	Children []string
}

// Inventory is an immutable snapshot of the host/group topology.
// It is safe for concurrent readers; nothing mutates it during a run.
type Inventory struct {
	hosts  map[string]*Host
	groups map[string]*Group
}

// connection var keys recognized on host lines. Everything else lands
// in Host.Vars.
const (
	varAddress  = "address"
	varPort     = "port"
	varUser     = "user"
	varPassword = "password"
	varKeyPath  = "key_path"
)

// AllGroup is the implicit group containing every host.
const AllGroup = "all"

// UngroupedGroup collects hosts declared before any group header.
const UngroupedGroup = "ungrouped"

// Host returns the host with the given name.
func (inv *Inventory) Host(name string) (*Host, bool) {
	h, ok := inv.hosts[name]
	return h, ok
}

// Hosts returns all hosts sorted by name.
func (inv *Inventory) Hosts() []*Host {
	out := make([]*Host, 0, len(inv.hosts))
	for _, h := range inv.hosts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Group returns the group with the given name.
func (inv *Inventory) Group(name string) (*Group, bool) {
	g, ok := inv.groups[name]
	return g, ok
}

// GroupNames returns all group names sorted alphabetically.
func (inv *Inventory) GroupNames() []string {
	out := make([]string, 0, len(inv.groups))
	for name := range inv.groups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// applyVar assigns a key=value pair to the host, routing connection
// vars to their typed fields.
func (h *Host) applyVar(key, value string) {
	switch key {
	case varAddress:
		h.Address = value
	case varPort:
		if p, err := strconv.Atoi(value); err == nil {
			h.Port = p
		}
	case varUser:
		h.User = value
	case varPassword:
		h.Password = value
	case varKeyPath:
		h.KeyPath = value
	default:
		if h.Vars == nil {
			h.Vars = make(map[string]string)
		}
		h.Vars[key] = value
	}
}
