package content

import (
	"fmt"
	"time"
)

// ContentSet is the ordered container variant of a content node. Its persisted
// shape is the Refs list; children are hydrated on demand. While a draft is
// open every mutator routes to the draft and the live list is untouched.
type ContentSet struct {
	Content
	Refs []Ref

	children map[string]*Content
	cursor   int
}

func NewContentSet(uid string, def *Definition) *ContentSet {
	return &ContentSet{Content: *NewContent(uid, def)}
}

func (s *ContentSet) Meta() *Content { return &s.Content }

// NewDraft snapshots the set for editing, including the accept list and arity
// bounds in force at checkout time.
func (s *ContentSet) NewDraft(owner, id string) *Revision {
	draft := newDraft(&s.Content, owner, id)
	draft.Refs = append([]Ref(nil), s.Refs...)
	if s.Def != nil {
		draft.Accept = append([]string(nil), s.Def.Accept...)
		draft.MinEntry = s.Def.MinEntry
		draft.MaxEntry = s.Def.MaxEntry
	}
	return draft
}

// Accepts reports whether the set's declared accept list allows the type. An
// empty accept list allows everything.
func (s *ContentSet) Accepts(typ string) bool {
	if s.Def == nil || len(s.Def.Accept) == 0 {
		return true
	}
	for _, accepted := range s.Def.Accept {
		if accepted == typ {
			return true
		}
	}
	return false
}

func (s *ContentSet) withinMax(size int) bool {
	if s.Def == nil || s.Def.MaxEntry <= 0 {
		return true
	}
	return size <= s.Def.MaxEntry
}

// Count is the live entry count; an open draft does not change it.
func (s *ContentSet) Count() int { return len(s.Refs) }

// Push appends a node. Rejected types and full sets are silent no-ops. With an
// open draft the append lands on the draft only.
func (s *ContentSet) Push(child *Content) {
	if child == nil || !s.Accepts(child.Type) {
		return
	}
	ref := Ref{Type: child.Type, UID: child.UID}
	if d := s.Draft(); d != nil {
		if s.withinMax(d.RefCount() + 1) {
			d.PushRef(ref)
			d.Resolve(child)
		}
		return
	}
	if !s.withinMax(len(s.Refs) + 1) {
		return
	}
	s.Refs = append(s.Refs, ref)
	s.track(child)
	s.ModifiedAt = time.Now()
}

// Unshift prepends a node under the same constraints as Push.
func (s *ContentSet) Unshift(child *Content) {
	if child == nil || !s.Accepts(child.Type) {
		return
	}
	ref := Ref{Type: child.Type, UID: child.UID}
	if d := s.Draft(); d != nil {
		if s.withinMax(d.RefCount() + 1) {
			d.UnshiftRef(ref)
			d.Resolve(child)
		}
		return
	}
	if !s.withinMax(len(s.Refs) + 1) {
		return
	}
	s.Refs = append([]Ref{ref}, s.Refs...)
	s.track(child)
	s.ModifiedAt = time.Now()
}

// Pop removes and returns the last reference. Returns false on empty.
func (s *ContentSet) Pop() (Ref, bool) {
	if d := s.Draft(); d != nil {
		return d.PopRef()
	}
	if len(s.Refs) == 0 {
		return Ref{}, false
	}
	ref := s.Refs[len(s.Refs)-1]
	s.Refs = s.Refs[:len(s.Refs)-1]
	s.ModifiedAt = time.Now()
	return ref, true
}

// Shift removes and returns the first reference. Returns false on empty.
func (s *ContentSet) Shift() (Ref, bool) {
	if d := s.Draft(); d != nil {
		return d.ShiftRef()
	}
	if len(s.Refs) == 0 {
		return Ref{}, false
	}
	ref := s.Refs[0]
	s.Refs = s.Refs[1:]
	s.ModifiedAt = time.Now()
	return ref, true
}

// Clear empties the set (or the draft, when one is open).
func (s *ContentSet) Clear() {
	if d := s.Draft(); d != nil {
		d.ClearRefs()
		return
	}
	s.clearLive()
}

func (s *ContentSet) clearLive() {
	s.Refs = nil
	s.children = nil
	s.cursor = 0
	s.ModifiedAt = time.Now()
}

// IndexOf returns the position of the child with the given uid. The found flag
// makes "not found" distinguishable from "found at position 0".
func (s *ContentSet) IndexOf(uid string) (int, bool) {
	for i, ref := range s.Refs {
		if ref.UID == uid {
			return i, true
		}
	}
	return 0, false
}

// ReplaceChildAt rebuilds the list substituting the entry at the given
// position.
func (s *ContentSet) ReplaceChildAt(index int, child *Content) error {
	if index < 0 || index >= len(s.Refs) {
		return fmt.Errorf("index %d out of range [0, %d)", index, len(s.Refs))
	}
	if child == nil || !s.Accepts(child.Type) {
		return fmt.Errorf("content type %q not accepted", typeOf(child))
	}
	rebuilt := make([]Ref, 0, len(s.Refs))
	for i, ref := range s.Refs {
		if i == index {
			rebuilt = append(rebuilt, Ref{Type: child.Type, UID: child.UID})
			continue
		}
		rebuilt = append(rebuilt, ref)
	}
	s.Refs = rebuilt
	s.track(child)
	s.ModifiedAt = time.Now()
	return nil
}

func typeOf(c *Content) string {
	if c == nil {
		return ""
	}
	return c.Type
}

func (s *ContentSet) track(child *Content) {
	if s.children == nil {
		s.children = make(map[string]*Content)
	}
	s.children[child.UID] = child
}

// Hydrate materializes children through the resolver. Unresolvable references
// stay unhydrated; At returns nil for them.
func (s *ContentSet) Hydrate(resolve func(Ref) *Content) {
	for _, ref := range s.Refs {
		if _, ok := s.children[ref.UID]; ok {
			continue
		}
		if child := resolve(ref); child != nil {
			s.track(child)
		}
	}
}

// At returns the hydrated child at the given position, nil when out of range
// or not hydrated.
func (s *ContentSet) At(i int) *Content {
	if i < 0 || i >= len(s.Refs) {
		return nil
	}
	return s.children[s.Refs[i].UID]
}

// Rewind, Valid, Current and Next give cursor-style iteration over the live
// list.
func (s *ContentSet) Rewind()     { s.cursor = 0 }
func (s *ContentSet) Valid() bool { return s.cursor < len(s.Refs) }

func (s *ContentSet) Current() *Content {
	return s.At(s.cursor)
}

func (s *ContentSet) Next() *Content {
	c := s.At(s.cursor)
	s.cursor++
	return c
}

// ReplayCommit swaps in the committed reference list. Only the commit flow
// calls this, after detaching the draft.
func (s *ContentSet) ReplayCommit(refs []Ref, children map[string]*Content) {
	s.Refs = append([]Ref(nil), refs...)
	s.children = children
	s.cursor = 0
	s.ModifiedAt = time.Now()
}

// CreateClone deep-clones the set for a page copy. A child is shared by
// reference instead of duplicated when the origin page's zone is inherited,
// when the child's clonemode parameter is "none", or when the child's main
// node is a different page than the one being cloned. Unhydrated children are
// always shared.
func (s *ContentSet) CreateClone(origin *Page, uid func() string) *ContentSet {
	clone := NewContentSet(uid(), s.Def)
	clone.Label = s.Label
	clone.Params = cloneParams(s.Params)

	inheritedZone := false
	if origin != nil {
		if zi, ok := origin.ZoneIndexOf(s.UID); ok {
			if zone := origin.Zone(zi); zone != nil && zone.Inherited {
				inheritedZone = true
			}
		}
	}

	for _, ref := range s.Refs {
		child := s.children[ref.UID]
		if child == nil || s.shareOnClone(child, origin, inheritedZone) {
			clone.Refs = append(clone.Refs, ref)
			if child != nil {
				clone.track(child)
			}
			continue
		}
		duplicated := child.Clone(uid())
		clone.Refs = append(clone.Refs, Ref{Type: duplicated.Type, UID: duplicated.UID})
		clone.track(duplicated)
	}
	return clone
}

func (s *ContentSet) shareOnClone(child *Content, origin *Page, inheritedZone bool) bool {
	if inheritedZone {
		return true
	}
	if mode, ok := child.ParamValue("clonemode").(string); ok && mode == "none" {
		return true
	}
	if origin != nil && child.MainNodeUID != "" && child.MainNodeUID != origin.UID {
		return true
	}
	return false
}
