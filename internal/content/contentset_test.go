package content

import (
	"fmt"
	"testing"
)

func textDef() *Definition {
	return &Definition{
		Type: "element/text",
		Slots: map[string]SlotDef{
			"value": {},
		},
		Params: map[string]any{"clonemode": ""},
	}
}

func setDef(accept []string, maxEntry int) *Definition {
	return &Definition{
		Type:     "contentset",
		IsSet:    true,
		Accept:   accept,
		MaxEntry: maxEntry,
	}
}

func newText(uid string) *Content {
	c := NewContent(uid, textDef())
	c.SetSlot("value", ScalarValue("hello"))
	return c
}

func TestPushRoutesToOpenDraft(t *testing.T) {
	set := NewContentSet("set-1", setDef(nil, 0))
	set.Push(newText("txt-1"))

	draft := set.NewDraft("editor", "rev-1")
	set.AttachDraft(draft)

	set.Push(newText("txt-2"))

	if got := set.Count(); got != 1 {
		t.Fatalf("live count changed under open draft: got %d, want 1", got)
	}
	if got := draft.RefCount(); got != 2 {
		t.Fatalf("draft count = %d, want 2", got)
	}
}

func TestPopShiftClearDelegateToDraft(t *testing.T) {
	set := NewContentSet("set-1", setDef(nil, 0))
	set.Push(newText("txt-1"))
	set.Push(newText("txt-2"))

	draft := set.NewDraft("editor", "rev-1")
	set.AttachDraft(draft)

	if ref, ok := set.Pop(); !ok || ref.UID != "txt-2" {
		t.Fatalf("Pop() = %v, %v; want txt-2, true", ref, ok)
	}
	if ref, ok := set.Shift(); !ok || ref.UID != "txt-1" {
		t.Fatalf("Shift() = %v, %v; want txt-1, true", ref, ok)
	}
	if _, ok := set.Pop(); ok {
		t.Fatal("Pop() on empty draft should report false")
	}
	if got := set.Count(); got != 2 {
		t.Fatalf("live count changed under open draft: got %d, want 2", got)
	}

	set.Clear()
	if got := draft.RefCount(); got != 0 {
		t.Fatalf("draft count after Clear = %d, want 0", got)
	}
	if got := set.Count(); got != 2 {
		t.Fatalf("live count after Clear under draft = %d, want 2", got)
	}
}

func TestPushEnforcesAcceptAndArity(t *testing.T) {
	set := NewContentSet("set-1", setDef([]string{"element/text"}, 1))

	other := NewContent("img-1", &Definition{Type: "element/image"})
	set.Push(other)
	if got := set.Count(); got != 0 {
		t.Fatalf("rejected type was appended: count = %d, want 0", got)
	}

	set.Push(newText("txt-1"))
	set.Push(newText("txt-2"))
	if got := set.Count(); got != 1 {
		t.Fatalf("maxentry ignored: count = %d, want 1", got)
	}
}

func TestUnshiftPrependsWithinBounds(t *testing.T) {
	set := NewContentSet("set-1", setDef(nil, 2))
	set.Push(newText("txt-1"))
	set.Unshift(newText("txt-0"))
	set.Unshift(newText("txt-overflow"))

	if got := set.Count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
	if set.Refs[0].UID != "txt-0" || set.Refs[1].UID != "txt-1" {
		t.Fatalf("unexpected order: %v", set.Refs)
	}
}

func TestIndexOfDistinguishesPositionZeroFromAbsent(t *testing.T) {
	set := NewContentSet("set-1", setDef(nil, 0))
	set.Push(newText("txt-first"))
	set.Push(newText("txt-second"))

	index, found := set.IndexOf("txt-first")
	if !found {
		t.Fatal("IndexOf(txt-first) not found")
	}
	if index != 0 {
		t.Fatalf("IndexOf(txt-first) = %d, want 0", index)
	}

	absentIndex, absentFound := set.IndexOf("txt-missing")
	if absentFound {
		t.Fatal("IndexOf(txt-missing) reported found")
	}
	if absentIndex != 0 {
		t.Fatalf("absent index = %d, want zero value", absentIndex)
	}
	if found == absentFound {
		t.Fatal("present and absent lookups must be distinguishable by the found flag")
	}
}

func TestReplaceChildAt(t *testing.T) {
	set := NewContentSet("set-1", setDef(nil, 0))
	set.Push(newText("txt-1"))
	set.Push(newText("txt-2"))

	if err := set.ReplaceChildAt(1, newText("txt-3")); err != nil {
		t.Fatalf("ReplaceChildAt() error = %v", err)
	}
	if set.Refs[1].UID != "txt-3" {
		t.Fatalf("replacement not applied: %v", set.Refs)
	}
	if err := set.ReplaceChildAt(5, newText("txt-4")); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestIterationCursor(t *testing.T) {
	set := NewContentSet("set-1", setDef(nil, 0))
	set.Push(newText("txt-1"))
	set.Push(newText("txt-2"))

	var seen []string
	for set.Rewind(); set.Valid(); {
		seen = append(seen, set.Next().UID)
	}
	if len(seen) != 2 || seen[0] != "txt-1" || seen[1] != "txt-2" {
		t.Fatalf("iteration order = %v", seen)
	}
}

func TestCreateCloneDuplicatesOwnedChildren(t *testing.T) {
	page := &Page{
		UID:            "page-1",
		Layout:         &Layout{Zones: []Zone{{MainZone: true}}},
		ContentSetUIDs: []string{"set-1"},
	}
	set := NewContentSet("set-1", setDef(nil, 0))
	owned := newText("txt-owned")
	owned.MainNodeUID = "page-1"
	set.Push(owned)

	counter := 0
	nextUID := func() string {
		counter++
		return fmt.Sprintf("clone-%d", counter)
	}

	clone := set.CreateClone(page, nextUID)
	if clone.UID == set.UID {
		t.Fatal("clone kept the origin uid")
	}
	if clone.Count() != 1 {
		t.Fatalf("clone count = %d, want 1", clone.Count())
	}
	if clone.Refs[0].UID == "txt-owned" {
		t.Fatal("owned child should have been duplicated, not shared")
	}
}

func TestCreateCloneSharesInheritedAndForeignChildren(t *testing.T) {
	page := &Page{
		UID:            "page-1",
		Layout:         &Layout{Zones: []Zone{{Inherited: true}}},
		ContentSetUIDs: []string{"set-inherited"},
	}

	inherited := NewContentSet("set-inherited", setDef(nil, 0))
	inherited.Push(newText("txt-shared"))
	clone := inherited.CreateClone(page, func() string { return "clone-uid" })
	if clone.Refs[0].UID != "txt-shared" {
		t.Fatal("inherited zone child should be shared by reference")
	}

	foreign := NewContentSet("set-foreign", setDef(nil, 0))
	child := newText("txt-foreign")
	child.MainNodeUID = "page-other"
	foreign.Push(child)
	clone = foreign.CreateClone(page, func() string { return "clone-uid" })
	if clone.Refs[0].UID != "txt-foreign" {
		t.Fatal("child owned by a different page should be shared by reference")
	}

	pinned := NewContentSet("set-pinned", setDef(nil, 0))
	fixed := newText("txt-pinned")
	fixed.SetParam("clonemode", "none")
	pinned.Push(fixed)
	clone = pinned.CreateClone(page, func() string { return "clone-uid" })
	if clone.Refs[0].UID != "txt-pinned" {
		t.Fatal("clonemode none child should be shared by reference")
	}
}
