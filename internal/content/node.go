package content

import "time"

type State int

const (
	StateNew State = iota
	StateNormal
	StateModified
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateNormal:
		return "NORMAL"
	case StateModified:
		return "MODIFIED"
	case StateDeleted:
		return "DELETED"
	}
	return "UNKNOWN"
}

// Node is either an element Content or a ContentSet. Meta exposes the shared
// entity fields, NewDraft builds the checkout snapshot appropriate to the
// concrete kind.
type Node interface {
	Meta() *Content
	NewDraft(owner, id string) *Revision
}

// Content is an element content node: a typed unit of content with named child
// slots and parameters. Committed fields are only mutated through a commit;
// while a draft is open every write is redirected to the draft.
type Content struct {
	UID         string
	Type        string
	Revision    int
	State       State
	Label       string
	Def         *Definition
	Slots       map[string]SlotValue
	Params      map[string]any // overrides of Def.Params defaults
	MainNodeUID string
	CreatedAt   time.Time
	ModifiedAt  time.Time

	draft *Revision
}

func NewContent(uid string, def *Definition) *Content {
	now := time.Now()
	return &Content{
		UID:        uid,
		Type:       def.Type,
		State:      StateNew,
		Def:        def,
		Slots:      make(map[string]SlotValue),
		Params:     make(map[string]any),
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

func (c *Content) Meta() *Content { return c }

func (c *Content) Draft() *Revision { return c.draft }

func (c *Content) AttachDraft(r *Revision) { c.draft = r }

func (c *Content) ClearDraft() { c.draft = nil }

// ParamValue resolves a parameter: the committed override when present,
// otherwise the compiled default.
func (c *Content) ParamValue(key string) any {
	if value, ok := c.Params[key]; ok {
		return value
	}
	if c.Def != nil {
		if value, ok := c.Def.ParamDefault(key); ok {
			return value
		}
	}
	return nil
}

// SetParam writes a parameter through the open draft when one exists.
func (c *Content) SetParam(key string, value any) {
	if c.draft != nil {
		c.draft.SetParam(key, value)
		return
	}
	c.Params[key] = value
	c.ModifiedAt = time.Now()
}

func (c *Content) Slot(key string) (SlotValue, bool) {
	value, ok := c.Slots[key]
	return value, ok
}

// SetSlot writes a child slot through the open draft when one exists.
func (c *Content) SetSlot(key string, value SlotValue) {
	if c.draft != nil {
		c.draft.SetSlot(key, value)
		return
	}
	c.Slots[key] = value
	c.ModifiedAt = time.Now()
}

// NewDraft snapshots the node for editing: full slot data, label, and only the
// parameters that differ from compiled defaults. State is ADDED until the node
// has been committed at least once.
func (c *Content) NewDraft(owner, id string) *Revision {
	return newDraft(c, owner, id)
}

// Clone duplicates the node under a fresh uid, reset to never-committed.
func (c *Content) Clone(uid string) *Content {
	now := time.Now()
	clone := &Content{
		UID:         uid,
		Type:        c.Type,
		State:       StateNew,
		Label:       c.Label,
		Def:         c.Def,
		Slots:       cloneSlots(c.Slots),
		Params:      cloneParams(c.Params),
		MainNodeUID: c.MainNodeUID,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
	if clone.Slots == nil {
		clone.Slots = make(map[string]SlotValue)
	}
	return clone
}

// paramOverrides returns the subset of params differing from the definition
// defaults. This is the sparse shape stored on revisions.
func paramOverrides(def *Definition, params map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range params {
		if def != nil {
			if fallback, ok := def.ParamDefault(key); ok && fallback == value {
				continue
			}
		}
		out[key] = value
	}
	return out
}
