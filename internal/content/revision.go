package content

import "time"

type RevisionState int

const (
	RevisionAdded RevisionState = iota
	RevisionModified
	RevisionConflicted
	RevisionCommitted
)

func (s RevisionState) String() string {
	switch s {
	case RevisionAdded:
		return "ADDED"
	case RevisionModified:
		return "MODIFIED"
	case RevisionConflicted:
		return "CONFLICTED"
	case RevisionCommitted:
		return "COMMITTED"
	}
	return "UNKNOWN"
}

// DraftStates are the revision states that count as an open draft.
var DraftStates = []RevisionState{RevisionAdded, RevisionModified, RevisionConflicted}

// Revision is a per-owner edit snapshot of one content node. The captured
// Revision counter is the optimistic-concurrency token: a commit only succeeds
// while it still matches the content's live counter.
type Revision struct {
	ID          string
	ContentUID  string
	ContentType string
	Owner       string
	Revision    int
	State       RevisionState
	Label       string
	Comment     string

	// checkout-time copies of the set constraints
	Accept   []string
	MinEntry int
	MaxEntry int

	Slots  map[string]SlotValue // element snapshot
	Refs   []Ref                // set snapshot
	Params map[string]any       // sparse: only values differing from defaults

	CreatedAt  time.Time
	ModifiedAt time.Time

	resolved map[string]*Content
}

func newDraft(c *Content, owner, id string) *Revision {
	state := RevisionModified
	if c.Revision == 0 {
		state = RevisionAdded
	}
	now := time.Now()
	return &Revision{
		ID:          id,
		ContentUID:  c.UID,
		ContentType: c.Type,
		Owner:       owner,
		Revision:    c.Revision,
		State:       state,
		Label:       c.Label,
		Slots:       cloneSlots(c.Slots),
		Params:      paramOverrides(c.Def, c.Params),
		CreatedAt:   now,
		ModifiedAt:  now,
	}
}

func (r *Revision) touch() { r.ModifiedAt = time.Now() }

func (r *Revision) SetParam(key string, value any) {
	if r.Params == nil {
		r.Params = make(map[string]any)
	}
	r.Params[key] = value
	r.touch()
}

func (r *Revision) SetSlot(key string, value SlotValue) {
	if r.Slots == nil {
		r.Slots = make(map[string]SlotValue)
	}
	r.Slots[key] = value
	r.touch()
}

func (r *Revision) RefCount() int { return len(r.Refs) }

func (r *Revision) PushRef(ref Ref) {
	r.Refs = append(r.Refs, ref)
	r.touch()
}

func (r *Revision) UnshiftRef(ref Ref) {
	r.Refs = append([]Ref{ref}, r.Refs...)
	r.touch()
}

func (r *Revision) PopRef() (Ref, bool) {
	if len(r.Refs) == 0 {
		return Ref{}, false
	}
	ref := r.Refs[len(r.Refs)-1]
	r.Refs = r.Refs[:len(r.Refs)-1]
	r.touch()
	return ref, true
}

func (r *Revision) ShiftRef() (Ref, bool) {
	if len(r.Refs) == 0 {
		return Ref{}, false
	}
	ref := r.Refs[0]
	r.Refs = r.Refs[1:]
	r.touch()
	return ref, true
}

func (r *Revision) ClearRefs() {
	r.Refs = nil
	r.touch()
}

// Commit consumes the draft: the captured counter advances and the row becomes
// a history entry. The owning content copies the advanced counter afterwards.
func (r *Revision) Commit() {
	r.Revision++
	r.State = RevisionCommitted
	r.touch()
}

// MarkConflicted parks the draft after a denied commit: another commit advanced
// the live counter past the captured one. The owner has to resolve or revert.
func (r *Revision) MarkConflicted() {
	r.State = RevisionConflicted
	r.touch()
}

// Resolve records a hydrated subcontent instance for one of the draft's
// references, Resolved looks it up.
func (r *Revision) Resolve(c *Content) {
	if r.resolved == nil {
		r.resolved = make(map[string]*Content)
	}
	r.resolved[c.UID] = c
}

func (r *Revision) Resolved(uid string) (*Content, bool) {
	c, ok := r.resolved[uid]
	return c, ok
}

// ParamsDirty reports whether the draft's parameters still differ from the
// content's committed overrides. Both sides are normalized against the
// compiled defaults first, so re-setting a parameter to its default counts as
// clean.
func (r *Revision) ParamsDirty(c *Content) bool {
	live := paramOverrides(c.Def, c.Params)
	drafted := paramOverrides(c.Def, r.Params)
	if len(drafted) != len(live) {
		return true
	}
	for key, value := range drafted {
		if committed, ok := live[key]; !ok || committed != value {
			return true
		}
	}
	return false
}

// ElementsDirty reports whether the draft's element data still differs from
// the live node. For content sets the comparison is by entry count, matching
// the serialized-diff check the revert flow relies on.
func (r *Revision) ElementsDirty(node Node) bool {
	if set, ok := node.(*ContentSet); ok {
		return len(r.Refs) != len(set.Refs)
	}
	c := node.Meta()
	if len(r.Slots) != len(c.Slots) {
		return true
	}
	for key, value := range r.Slots {
		committed, ok := c.Slots[key]
		if !ok || !committed.Equal(value) {
			return true
		}
	}
	return false
}

// CloneAsDraft seeds a brand-new draft from this (historical) revision. The
// captured counter is reset to the content's current one so the clone commits
// like any other draft.
func (r *Revision) CloneAsDraft(id, owner, comment string, currentRevision int) *Revision {
	now := time.Now()
	return &Revision{
		ID:          id,
		ContentUID:  r.ContentUID,
		ContentType: r.ContentType,
		Owner:       owner,
		Revision:    currentRevision,
		State:       RevisionModified,
		Label:       r.Label,
		Comment:     comment,
		Accept:      append([]string(nil), r.Accept...),
		MinEntry:    r.MinEntry,
		MaxEntry:    r.MaxEntry,
		Slots:       cloneSlots(r.Slots),
		Refs:        append([]Ref(nil), r.Refs...),
		Params:      cloneParams(r.Params),
		CreatedAt:   now,
		ModifiedAt:  now,
	}
}
