package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is the slice of database/sql shared by *sql.DB and *sql.Tx. The
// indexation store accepts either, so the commit flow can run the index
// refresh inside the same transaction as the content write.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IndexationStore keeps the denormalized closure tables consistent with the
// live content graph: content_has_subcontent holds the direct edges,
// idx_content_content / idx_page_content / idx_site_content the derived
// reachability. Closure rows are always rebuilt by full replace; the direct
// edge table is the single source the rebuild trusts.
//
// SQL failures propagate untouched: the caller owns the transaction boundary
// and there is no partial-index compensation at this layer.
type IndexationStore struct {
	db       DBTX
	replacer rowReplacer
}

func NewIndexationStore(db DBTX, driver string) *IndexationStore {
	return &IndexationStore{
		db:       db,
		replacer: replacerFor(CapabilitiesFor(driver)),
	}
}

// ReplaceEdges replaces the direct child edges of one parent with the given
// ordered child uid list.
func (s *IndexationStore) ReplaceEdges(ctx context.Context, parentUID string, childUIDs []string) error {
	rows := make([][]any, len(childUIDs))
	for i, childUID := range childUIDs {
		rows[i] = []any{parentUID, childUID, i}
	}
	stmts := s.replacer.replaceStatements(
		"content_has_subcontent",
		[]string{"content_uid", "subcontent_uid", "ord"},
		"content_uid", parentUID, rows)
	return runStatements(ctx, s.db, stmts)
}

// UpdateIdxContent rebuilds every content-content closure row touching the
// uid. The rebuild unions the node's ancestors (direct parents plus closure
// ancestors of those parents) against the node itself and its descendants
// (direct children plus closure descendants of those children), plus the
// reflexive pair. It is correct incrementally because the direct edge table
// is always current and the closure rows of untouched nodes are trusted.
// Ancestor-descendant pairs that bypass the uid may survive the delete and
// reappear in the rebuild, hence the conflict clause.
func (s *IndexationStore) UpdateIdxContent(ctx context.Context, uid string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM idx_content_content WHERE content_uid=$1 OR subcontent_uid=$1
	`, uid); err != nil {
		return fmt.Errorf("clear content closure of %s: %w", uid, err)
	}

	if _, err := s.db.ExecContext(ctx, `
		WITH anc AS (
			SELECT e.content_uid AS uid
			FROM content_has_subcontent e
			WHERE e.subcontent_uid = $1
			UNION
			SELECT i.content_uid
			FROM idx_content_content i
			JOIN content_has_subcontent e ON e.content_uid = i.subcontent_uid
			WHERE e.subcontent_uid = $1
		),
		descs AS (
			SELECT e.subcontent_uid AS uid
			FROM content_has_subcontent e
			WHERE e.content_uid = $1
			UNION
			SELECT i.subcontent_uid
			FROM idx_content_content i
			JOIN content_has_subcontent e ON e.subcontent_uid = i.content_uid
			WHERE e.content_uid = $1
		)
		INSERT INTO idx_content_content (content_uid, subcontent_uid)
		SELECT a.uid, $1 FROM anc a
		UNION
		SELECT a.uid, d.uid FROM anc a CROSS JOIN descs d
		UNION
		SELECT $1, d.uid FROM descs d
		UNION
		SELECT $1, $1
		ON CONFLICT (content_uid, subcontent_uid) DO NOTHING
	`, uid); err != nil {
		return fmt.Errorf("rebuild content closure of %s: %w", uid, err)
	}
	return nil
}

// UpdateIdxPage rebuilds the page-content closure of one page from the
// content closure of the page's zone content sets.
func (s *IndexationStore) UpdateIdxPage(ctx context.Context, pageUID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM idx_page_content WHERE page_uid=$1
	`, pageUID); err != nil {
		return fmt.Errorf("clear page closure of %s: %w", pageUID, err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO idx_page_content (page_uid, content_uid)
		SELECT $1, pc.content_uid FROM page_content pc WHERE pc.page_uid=$1
		UNION
		SELECT $1, i.subcontent_uid
		FROM idx_content_content i
		JOIN page_content pc ON pc.content_uid = i.content_uid
		WHERE pc.page_uid=$1
	`, pageUID); err != nil {
		return fmt.Errorf("rebuild page closure of %s: %w", pageUID, err)
	}
	return nil
}

// UpdateIdxSiteContent records the given content nodes and all their
// descendants as belonging to the site.
func (s *IndexationStore) UpdateIdxSiteContent(ctx context.Context, siteUID string, contentUIDs []string) error {
	if len(contentUIDs) == 0 {
		return nil
	}
	args := make([]any, 0, 2*len(contentUIDs)+1)
	args = append(args, siteUID)
	for _, uid := range contentUIDs {
		args = append(args, uid)
	}
	for _, uid := range contentUIDs {
		args = append(args, uid)
	}
	roots := placeholders(2, len(contentUIDs))
	rootsAgain := placeholders(len(contentUIDs)+2, len(contentUIDs))

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM idx_site_content
		WHERE site_uid=$1 AND (
			content_uid IN (%s)
			OR content_uid IN (SELECT i.subcontent_uid FROM idx_content_content i WHERE i.content_uid IN (%s))
		)
	`, roots, rootsAgain), args...); err != nil {
		return fmt.Errorf("clear site closure of %s: %w", siteUID, err)
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO idx_site_content (site_uid, content_uid)
		SELECT $1, i.subcontent_uid FROM idx_content_content i WHERE i.content_uid IN (%s)
		UNION
		SELECT $1, uid FROM unnest(ARRAY[%s]::text[]) AS uid
	`, roots, rootsAgain), args...); err != nil {
		return fmt.Errorf("rebuild site closure of %s: %w", siteUID, err)
	}
	return nil
}

// RemoveIdxContent removes a deleted node from the direct edge table and all
// three closure tables. Distinct from UpdateIdxContent, which handles
// "content still exists but its children changed".
func (s *IndexationStore) RemoveIdxContent(ctx context.Context, uid string) error {
	deletes := []string{
		`DELETE FROM content_has_subcontent WHERE content_uid=$1 OR subcontent_uid=$1`,
		`DELETE FROM idx_content_content WHERE content_uid=$1 OR subcontent_uid=$1`,
		`DELETE FROM idx_page_content WHERE content_uid=$1`,
		`DELETE FROM idx_site_content WHERE content_uid=$1`,
	}
	for _, query := range deletes {
		if _, err := s.db.ExecContext(ctx, query, uid); err != nil {
			return fmt.Errorf("remove %s from index: %w", uid, err)
		}
	}
	return nil
}

// GetParentContentUids returns every ancestor of the given nodes: the blast
// radius cache invalidation needs after an edit.
func (s *IndexationStore) GetParentContentUids(ctx context.Context, uids []string) ([]string, error) {
	return s.closureQuery(ctx, `
		SELECT DISTINCT content_uid FROM idx_content_content
		WHERE subcontent_uid IN (%s) AND content_uid NOT IN (%s)
	`, uids)
}

// GetDescendantsContentUids returns every descendant of the given nodes.
func (s *IndexationStore) GetDescendantsContentUids(ctx context.Context, uids []string) ([]string, error) {
	return s.closureQuery(ctx, `
		SELECT DISTINCT subcontent_uid FROM idx_content_content
		WHERE content_uid IN (%s) AND subcontent_uid NOT IN (%s)
	`, uids)
}

func (s *IndexationStore) closureQuery(ctx context.Context, format string, uids []string) ([]string, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, 2*len(uids))
	for _, uid := range uids {
		args = append(args, uid)
	}
	for _, uid := range uids {
		args = append(args, uid)
	}
	query := fmt.Sprintf(format, placeholders(1, len(uids)), placeholders(len(uids)+1, len(uids)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("closure query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan closure row: %w", err)
		}
		out = append(out, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate closure rows: %w", err)
	}
	return out, nil
}
