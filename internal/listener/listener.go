// Package listener routes content mutation events to index maintenance and
// cache invalidation.
package listener

import (
	"context"
	"fmt"

	"backbee/engine/internal/content"
)

// Indexer is the closure-table maintenance surface the listener drives.
type Indexer interface {
	ReplaceEdges(ctx context.Context, parentUID string, childUIDs []string) error
	UpdateIdxContent(ctx context.Context, uid string) error
	UpdateIdxPage(ctx context.Context, pageUID string) error
	UpdateIdxSiteContent(ctx context.Context, siteUID string, contentUIDs []string) error
	RemoveIdxContent(ctx context.Context, uid string) error
	GetParentContentUids(ctx context.Context, uids []string) ([]string, error)
}

// Invalidator drops cached renderings for a set of content uids.
type Invalidator interface {
	Invalidate(ctx context.Context, uids []string) error
}

// PageFinder resolves which pages hold a content set.
type PageFinder interface {
	FindPagesContaining(ctx context.Context, setUID string) ([]*content.Page, error)
}

// Listener implements the engine's event sink. Index failures are fatal so
// they surface inside the commit's transaction; cache and page lookups are
// optional collaborators and may be nil.
type Listener struct {
	idx   Indexer
	cache Invalidator
	pages PageFinder
}

func New(idx Indexer, cache Invalidator, pages PageFinder) *Listener {
	return &Listener{idx: idx, cache: cache, pages: pages}
}

// ChildrenChanged refreshes the direct edges and closures of the changed node,
// cascades to the page and site closures of every page holding it or one of
// its ancestors, and invalidates the whole ancestor chain's cached renderings.
func (l *Listener) ChildrenChanged(ctx context.Context, contentUID string, childUIDs []string) error {
	if err := l.idx.ReplaceEdges(ctx, contentUID, childUIDs); err != nil {
		return fmt.Errorf("refresh edges of %s: %w", contentUID, err)
	}
	if err := l.idx.UpdateIdxContent(ctx, contentUID); err != nil {
		return fmt.Errorf("refresh closure of %s: %w", contentUID, err)
	}

	parents, err := l.idx.GetParentContentUids(ctx, []string{contentUID})
	if err != nil {
		return fmt.Errorf("resolve ancestors of %s: %w", contentUID, err)
	}
	touched := append([]string{contentUID}, parents...)

	if err := l.refreshPageClosures(ctx, contentUID, touched); err != nil {
		return err
	}
	return l.invalidate(ctx, touched)
}

// ContentRemoved clears the removed node from every index table and
// invalidates its former ancestors. Ancestors are resolved before the closure
// rows disappear.
func (l *Listener) ContentRemoved(ctx context.Context, contentUID string) error {
	parents, err := l.idx.GetParentContentUids(ctx, []string{contentUID})
	if err != nil {
		return fmt.Errorf("resolve ancestors of %s: %w", contentUID, err)
	}
	if err := l.idx.RemoveIdxContent(ctx, contentUID); err != nil {
		return fmt.Errorf("deindex %s: %w", contentUID, err)
	}
	return l.invalidate(ctx, append([]string{contentUID}, parents...))
}

// refreshPageClosures rebuilds the page and site closures of every page whose
// zone sets include the changed node or one of its ancestors.
func (l *Listener) refreshPageClosures(ctx context.Context, contentUID string, chain []string) error {
	if l.pages == nil {
		return nil
	}
	seen := make(map[string]bool)
	for _, uid := range chain {
		pages, err := l.pages.FindPagesContaining(ctx, uid)
		if err != nil {
			return fmt.Errorf("resolve pages of %s: %w", uid, err)
		}
		for _, page := range pages {
			if seen[page.UID] {
				continue
			}
			seen[page.UID] = true
			if err := l.idx.UpdateIdxPage(ctx, page.UID); err != nil {
				return fmt.Errorf("refresh page closure of %s: %w", page.UID, err)
			}
			if page.SiteUID == "" {
				continue
			}
			if err := l.idx.UpdateIdxSiteContent(ctx, page.SiteUID, []string{contentUID}); err != nil {
				return fmt.Errorf("refresh site closure of %s: %w", page.SiteUID, err)
			}
		}
	}
	return nil
}

func (l *Listener) invalidate(ctx context.Context, uids []string) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Invalidate(ctx, uids)
}
