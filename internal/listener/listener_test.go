package listener

import (
	"context"
	"testing"

	"backbee/engine/internal/content"
)

type fakeIndexer struct {
	edges       map[string][]string
	updated     []string
	removed     []string
	pageUpdates []string
	siteUpdates []string
	parents     map[string][]string
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

func (f *fakeIndexer) ReplaceEdges(_ context.Context, parentUID string, childUIDs []string) error {
	f.edges[parentUID] = childUIDs
	return nil
}

func (f *fakeIndexer) UpdateIdxContent(_ context.Context, uid string) error {
	f.updated = append(f.updated, uid)
	return nil
}

func (f *fakeIndexer) UpdateIdxPage(_ context.Context, pageUID string) error {
	f.pageUpdates = append(f.pageUpdates, pageUID)
	return nil
}

func (f *fakeIndexer) UpdateIdxSiteContent(_ context.Context, siteUID string, _ []string) error {
	f.siteUpdates = append(f.siteUpdates, siteUID)
	return nil
}

func (f *fakeIndexer) RemoveIdxContent(_ context.Context, uid string) error {
	f.removed = append(f.removed, uid)
	return nil
}

func (f *fakeIndexer) GetParentContentUids(_ context.Context, uids []string) ([]string, error) {
	var out []string
	for _, uid := range uids {
		out = append(out, f.parents[uid]...)
	}
	return out, nil
}

type fakeInvalidator struct {
	invalidated [][]string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, uids []string) error {
	f.invalidated = append(f.invalidated, uids)
	return nil
}

type fakePageFinder struct {
	bySet map[string][]*content.Page
}

func (f *fakePageFinder) FindPagesContaining(_ context.Context, setUID string) ([]*content.Page, error) {
	return f.bySet[setUID], nil
}

func TestChildrenChangedRefreshesIndexAndInvalidatesAncestors(t *testing.T) {
	idx := newFakeIndexer()
	idx.parents["set1"] = []string{"root-set"}
	cache := &fakeInvalidator{}
	pages := &fakePageFinder{bySet: map[string][]*content.Page{
		"root-set": {{UID: "page1", SiteUID: "site1"}},
	}}
	l := New(idx, cache, pages)

	err := l.ChildrenChanged(context.Background(), "set1", []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("children changed: %v", err)
	}

	if got := idx.edges["set1"]; len(got) != 2 || got[0] != "t1" {
		t.Fatalf("edges = %v", got)
	}
	if len(idx.updated) != 1 || idx.updated[0] != "set1" {
		t.Fatalf("closure updates = %v", idx.updated)
	}
	if len(idx.pageUpdates) != 1 || idx.pageUpdates[0] != "page1" {
		t.Fatalf("page closure updates = %v", idx.pageUpdates)
	}
	if len(idx.siteUpdates) != 1 || idx.siteUpdates[0] != "site1" {
		t.Fatalf("site closure updates = %v", idx.siteUpdates)
	}
	if len(cache.invalidated) != 1 {
		t.Fatalf("invalidations = %v", cache.invalidated)
	}
	got := cache.invalidated[0]
	if len(got) != 2 || got[0] != "set1" || got[1] != "root-set" {
		t.Fatalf("invalidated uids = %v, want the node and its ancestors", got)
	}
}

func TestContentRemovedResolvesAncestorsBeforeDeindexing(t *testing.T) {
	idx := newFakeIndexer()
	idx.parents["t1"] = []string{"set1"}
	cache := &fakeInvalidator{}
	l := New(idx, cache, nil)

	if err := l.ContentRemoved(context.Background(), "t1"); err != nil {
		t.Fatalf("content removed: %v", err)
	}

	if len(idx.removed) != 1 || idx.removed[0] != "t1" {
		t.Fatalf("removed = %v", idx.removed)
	}
	got := cache.invalidated[0]
	if len(got) != 2 || got[0] != "t1" || got[1] != "set1" {
		t.Fatalf("invalidated uids = %v", got)
	}
}

func TestNilCollaboratorsAreOptional(t *testing.T) {
	idx := newFakeIndexer()
	l := New(idx, nil, nil)

	if err := l.ChildrenChanged(context.Background(), "set1", nil); err != nil {
		t.Fatalf("children changed: %v", err)
	}
	if err := l.ContentRemoved(context.Background(), "set1"); err != nil {
		t.Fatalf("content removed: %v", err)
	}
}
