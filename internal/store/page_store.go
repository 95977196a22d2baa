package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backbee/engine/internal/content"
)

// ErrPageNotFound is returned when a page uid resolves to nothing.
var ErrPageNotFound = errors.New("page not found")

// PageStore persists pages and the ordered page_content rows binding each
// page's zones to its content sets.
type PageStore struct {
	db *sql.DB
}

func NewPageStore(db *sql.DB) *PageStore {
	return &PageStore{db: db}
}

// Save upserts the page row and replaces its zone bindings.
func (s *PageStore) Save(ctx context.Context, page *content.Page) error {
	layout, err := json.Marshal(page.Layout)
	if err != nil {
		return fmt.Errorf("encode page layout: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (uid, site_uid, label, layout, created_at, modified_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		ON CONFLICT (uid) DO UPDATE SET
			site_uid=EXCLUDED.site_uid,
			label=EXCLUDED.label,
			layout=EXCLUDED.layout,
			modified_at=EXCLUDED.modified_at
	`, page.UID, page.SiteUID, page.Label, string(layout), page.CreatedAt, page.ModifiedAt); err != nil {
		return fmt.Errorf("save page %s: %w", page.UID, err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM page_content WHERE page_uid=$1`, page.UID); err != nil {
		return fmt.Errorf("clear zone bindings of %s: %w", page.UID, err)
	}
	for i, setUID := range page.ContentSetUIDs {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO page_content (page_uid, content_uid, zone)
			VALUES ($1, $2, $3)
		`, page.UID, setUID, i); err != nil {
			return fmt.Errorf("bind zone %d of %s: %w", i, page.UID, err)
		}
	}
	return nil
}

// Get loads one page with its zone bindings in zone order.
func (s *PageStore) Get(ctx context.Context, uid string) (*content.Page, error) {
	var (
		page       content.Page
		layout     []byte
		createdAt  time.Time
		modifiedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT uid, site_uid, label, layout, created_at, modified_at
		FROM pages
		WHERE uid=$1
	`, uid).Scan(&page.UID, &page.SiteUID, &page.Label, &layout, &createdAt, &modifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load page %s: %w", uid, err)
	}
	page.CreatedAt = createdAt
	page.ModifiedAt = modifiedAt
	if len(layout) > 0 {
		if err := json.Unmarshal(layout, &page.Layout); err != nil {
			return nil, fmt.Errorf("decode layout of %s: %w", uid, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT content_uid FROM page_content WHERE page_uid=$1 ORDER BY zone
	`, uid)
	if err != nil {
		return nil, fmt.Errorf("load zone bindings of %s: %w", uid, err)
	}
	defer rows.Close()
	for rows.Next() {
		var setUID string
		if err := rows.Scan(&setUID); err != nil {
			return nil, fmt.Errorf("scan zone binding: %w", err)
		}
		page.ContentSetUIDs = append(page.ContentSetUIDs, setUID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate zone bindings: %w", err)
	}
	return &page, nil
}

// FindPagesContaining returns every page with a zone bound to the content set.
// A content set normally belongs to one page, but inherited zones share a set
// across a page subtree.
func (s *PageStore) FindPagesContaining(ctx context.Context, setUID string) ([]*content.Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_uid FROM page_content WHERE content_uid=$1
	`, setUID)
	if err != nil {
		return nil, fmt.Errorf("find pages of set %s: %w", setUID, err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan page uid: %w", err)
		}
		uids = append(uids, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page uids: %w", err)
	}

	pages := make([]*content.Page, 0, len(uids))
	for _, uid := range uids {
		page, err := s.Get(ctx, uid)
		if errors.Is(err, ErrPageNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}
