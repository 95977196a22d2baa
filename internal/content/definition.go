package content

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// KeywordType is the element type whose slot assignments require keyword
// back-link bookkeeping in the store.
const KeywordType = "element/keyword"

// SlotDef declares one child slot of an element content type: which content
// types the slot accepts. An empty accept list means the slot holds scalars.
type SlotDef struct {
	Accept []string
}

func (d SlotDef) IsScalar() bool {
	return len(d.Accept) == 0
}

func (d SlotDef) AcceptsKeyword() bool {
	for _, typ := range d.Accept {
		if typ == KeywordType {
			return true
		}
	}
	return false
}

// Definition is the compiled schema of a content type: slot declarations and
// parameter defaults for element content, accept list and arity bounds for
// content sets.
type Definition struct {
	Type     string
	IsSet    bool
	Slots    map[string]SlotDef
	Params   map[string]any
	Accept   []string
	MinEntry int
	MaxEntry int // 0 means unbounded
}

func (d *Definition) SlotNames() []string {
	names := make([]string, 0, len(d.Slots))
	for name := range d.Slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Definition) ParamDefault(key string) (any, bool) {
	value, ok := d.Params[key]
	return value, ok
}

// Registry holds every known content type definition. The manager refuses to
// commit drafts referencing types the registry does not know about.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Type] = def
}

func (r *Registry) Definition(typ string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[typ]
	return def, ok
}

// Ensure returns an error naming the first unknown type among the given refs.
func (r *Registry) Ensure(refs []Ref) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, ref := range refs {
		if _, ok := r.defs[ref.Type]; !ok {
			missing = append(missing, ref.Type)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("unknown content types: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.defs))
	for typ := range r.defs {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
