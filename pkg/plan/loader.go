package plan

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// InvalidError is returned when a plan file is malformed or fails
// semantic validation. It is fatal to the whole run before any host
// is touched.
type InvalidError struct {
	// Path is the plan file path.
	Path string

	// Err is the underlying problem.
	Err error
}

// Error implements the error interface.
func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid plan %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *InvalidError) Unwrap() error {
	return e.Err
}

// Loader loads and validates plan files.
type Loader struct {
	validate *validator.Validate

	// kinds is the set of known assertion kinds; empty disables the
	// kind check (used by validate-only callers without a registry).
	kinds map[string]bool
}

// NewLoader creates a plan loader. knownKinds lists the registered
// assertion kinds used to reject unknown task kinds at load time.
func NewLoader(knownKinds []string) *Loader {
	kinds := make(map[string]bool, len(knownKinds))
	for _, k := range knownKinds {
		kinds[k] = true
	}
	return &Loader{
		validate: validator.New(),
		kinds:    kinds,
	}
}

// Load reads, parses and validates a single plan file.
func (l *Loader) Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &InvalidError{Path: path, Err: err}
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, &InvalidError{Path: path, Err: err}
	}

	p.Path = path
	if p.Name == "" {
		p.Name = filepath.Base(path)
	}

	if err := l.check(&p); err != nil {
		return nil, &InvalidError{Path: path, Err: err}
	}

	return &p, nil
}

// check runs structural and semantic validation on a parsed plan.
func (l *Loader) check(p *Plan) error {
	if err := l.validate.Struct(p); err != nil {
		return err
	}

	if len(p.Tasks) > 0 && p.Hosts == "" {
		return fmt.Errorf("plan with tasks must declare hosts")
	}
	if len(p.Tasks) == 0 && len(p.Imports) == 0 {
		return fmt.Errorf("plan declares neither tasks nor imports")
	}

	// Handler names must be unique.
	seen := make(map[string]bool, len(p.Handlers))
	for _, h := range p.Handlers {
		if seen[h.Name] {
			return fmt.Errorf("duplicate handler name %q", h.Name)
		}
		seen[h.Name] = true
	}

	// Every notify target must exist in the plan's handler set.
	for _, t := range p.Tasks {
		for _, notify := range t.Notify {
			if !seen[notify] {
				return fmt.Errorf("task %q notifies unknown handler %q", t.Name, notify)
			}
		}
	}

	if len(l.kinds) > 0 {
		for _, t := range p.Tasks {
			if !l.kinds[t.Kind] {
				return fmt.Errorf("task %q has unknown kind %q", t.Name, t.Kind)
			}
		}
		for _, h := range p.Handlers {
			if !l.kinds[h.Kind] {
				return fmt.Errorf("handler %q has unknown kind %q", h.Name, h.Kind)
			}
		}
	}

	return nil
}

// LoadComposite loads a plan file and resolves its imports into an
// ordered list of plans. Imports run before the importing plan's own
// tasks, depth-first, preserving declaration order. Import cycles are
// rejected.
func (l *Loader) LoadComposite(path string) ([]*Plan, error) {
	visited := make(map[string]bool)
	return l.loadComposite(path, visited)
}

func (l *Loader) loadComposite(path string, visited map[string]bool) ([]*Plan, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &InvalidError{Path: path, Err: err}
	}
	if visited[abs] {
		return nil, &InvalidError{Path: path, Err: fmt.Errorf("import cycle detected")}
	}
	visited[abs] = true

	p, err := l.Load(path)
	if err != nil {
		return nil, err
	}

	var plans []*Plan
	for _, imp := range p.Imports {
		ref := imp
		if !filepath.IsAbs(ref) {
			ref = filepath.Join(filepath.Dir(path), ref)
		}
		imported, err := l.loadComposite(ref, visited)
		if err != nil {
			return nil, err
		}
		plans = append(plans, imported...)
	}

	if len(p.Tasks) > 0 {
		plans = append(plans, p)
	}

	return plans, nil
}
