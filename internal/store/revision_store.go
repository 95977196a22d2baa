package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"backbee/engine/internal/content"
	"backbee/engine/internal/util"
)

var (
	// ErrNotVersioned is returned when update is called on an ADDED draft:
	// the content has never been committed, there is nothing to rebase onto.
	ErrNotVersioned = errors.New("content is not versioned yet")
	// ErrUpToDate is returned when the draft's captured counter still matches
	// the live one: there is nothing to refresh.
	ErrUpToDate = errors.New("draft is already up to date")
	// ErrConflicted blocks any automatic handling of a CONFLICTED draft; the
	// owner has to resolve or revert it.
	ErrConflicted = errors.New("draft is conflicted, resolve or revert it")
)

// RevisionStore owns the open-draft lifecycle for (content, owner) pairs and
// the optimistic-concurrency contract on top of the revision counter.
type RevisionStore struct {
	db       *sql.DB
	contents *ContentStore
}

func NewRevisionStore(db *sql.DB, contents *ContentStore) *RevisionStore {
	return &RevisionStore{db: db, contents: contents}
}

const revisionColumns = `id, content_uid, content_type, owner, revision, state, label, comment, accept, min_entry, max_entry, slots, refs, params, created_at, modified_at`

// GetDraft finds the owner's open draft for the node, optionally checking one
// out when none exists. Duplicate drafts are healed by keeping the freshest
// and deleting the rest; an unreadable draft row is deleted rather than left
// to block all future edits of the node.
func (s *RevisionStore) GetDraft(ctx context.Context, node content.Node, owner string, checkoutOnMissing bool) (*content.Revision, error) {
	meta := node.Meta()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+revisionColumns+`
		FROM content_revision
		WHERE content_uid=$1 AND owner=$2 AND state IN ($3, $4, $5)
		ORDER BY revision DESC, modified_at DESC
	`, meta.UID, owner,
		int(content.RevisionAdded), int(content.RevisionModified), int(content.RevisionConflicted))
	if err != nil {
		return nil, s.dropSuspectDrafts(ctx, meta.UID, owner, err)
	}
	defer rows.Close()

	var drafts []*content.Revision
	for rows.Next() {
		draft, scanErr := scanRevision(rows)
		if scanErr != nil {
			return nil, s.dropSuspectDrafts(ctx, meta.UID, owner, scanErr)
		}
		drafts = append(drafts, draft)
	}
	if err := rows.Err(); err != nil {
		return nil, s.dropSuspectDrafts(ctx, meta.UID, owner, err)
	}

	if len(drafts) == 0 {
		if !checkoutOnMissing {
			return nil, nil
		}
		draft := node.NewDraft(owner, util.NewID("rev"))
		if err := s.Save(ctx, draft); err != nil {
			return nil, err
		}
		meta.AttachDraft(draft)
		return draft, nil
	}

	// Self-healing: at most one open draft per (content, owner) pair is
	// legal. Keep the freshest, delete the rest.
	for _, stale := range drafts[1:] {
		if err := s.Delete(ctx, stale); err != nil {
			return nil, err
		}
	}

	draft := drafts[0]
	meta.AttachDraft(draft)
	return draft, nil
}

// dropSuspectDrafts is the fail-safe path: a draft we cannot read is worth
// less than the ability to start a fresh edit.
func (s *RevisionStore) dropSuspectDrafts(ctx context.Context, contentUID, owner string, cause error) error {
	log.Printf("revision: dropping unreadable draft rows for %s/%s: %v", contentUID, owner, cause)
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM content_revision
		WHERE content_uid=$1 AND owner=$2 AND state IN ($3, $4, $5)
	`, contentUID, owner,
		int(content.RevisionAdded), int(content.RevisionModified), int(content.RevisionConflicted)); err != nil {
		log.Printf("revision: fail-safe delete for %s/%s also failed: %v", contentUID, owner, err)
	}
	return nil
}

// Update checks a MODIFIED draft against the live revision counter. A still
// matching counter means there is nothing to do; an advanced one means
// another commit landed first, and the draft's subcontent references are
// reloaded so the caller can re-surface the rebase to the editor.
func (s *RevisionStore) Update(ctx context.Context, rev *content.Revision) (*content.Revision, error) {
	switch rev.State {
	case content.RevisionAdded:
		return nil, ErrNotVersioned
	case content.RevisionConflicted:
		return nil, ErrConflicted
	}

	var liveRevision int
	err := s.db.QueryRowContext(ctx, `SELECT revision FROM content WHERE uid=$1`, rev.ContentUID).Scan(&liveRevision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content %s no longer exists", rev.ContentUID)
	}
	if err != nil {
		return nil, fmt.Errorf("read live revision of %s: %w", rev.ContentUID, err)
	}

	if liveRevision == rev.Revision {
		return nil, ErrUpToDate
	}

	if err := s.LoadSubcontents(ctx, rev); err != nil {
		return nil, err
	}
	return rev, nil
}

// LoadSubcontents re-resolves every content reference embedded in the draft
// against the session, so a rebased draft points at managed rows instead of
// detached snapshots. References to content that disappeared are skipped.
func (s *RevisionStore) LoadSubcontents(ctx context.Context, rev *content.Revision) error {
	refs := append([]content.Ref(nil), rev.Refs...)
	for _, value := range rev.Slots {
		refs = append(refs, value.References()...)
	}

	for _, ref := range refs {
		node, err := s.contents.FindOneByTypeAndUID(ctx, ref.Type, ref.UID)
		if errors.Is(err, ErrContentNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reload subcontent %s: %w", ref.UID, err)
		}
		rev.Resolve(node.Meta())
	}
	return nil
}

// Save upserts the revision row.
func (s *RevisionStore) Save(ctx context.Context, rev *content.Revision) error {
	accept, err := json.Marshal(rev.Accept)
	if err != nil {
		return fmt.Errorf("encode revision accept: %w", err)
	}
	slots, err := json.Marshal(rev.Slots)
	if err != nil {
		return fmt.Errorf("encode revision slots: %w", err)
	}
	refs, err := json.Marshal(rev.Refs)
	if err != nil {
		return fmt.Errorf("encode revision refs: %w", err)
	}
	params, err := json.Marshal(rev.Params)
	if err != nil {
		return fmt.Errorf("encode revision params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content_revision
			(id, content_uid, content_type, owner, revision, state, label, comment,
			 accept, min_entry, max_entry, slots, refs, params, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12::jsonb, $13::jsonb, $14::jsonb, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			revision=EXCLUDED.revision,
			state=EXCLUDED.state,
			label=EXCLUDED.label,
			comment=EXCLUDED.comment,
			accept=EXCLUDED.accept,
			min_entry=EXCLUDED.min_entry,
			max_entry=EXCLUDED.max_entry,
			slots=EXCLUDED.slots,
			refs=EXCLUDED.refs,
			params=EXCLUDED.params,
			modified_at=EXCLUDED.modified_at
	`, rev.ID, rev.ContentUID, rev.ContentType, rev.Owner, rev.Revision, int(rev.State),
		rev.Label, rev.Comment, string(accept), rev.MinEntry, rev.MaxEntry,
		string(slots), string(refs), string(params), rev.CreatedAt, rev.ModifiedAt)
	if err != nil {
		return fmt.Errorf("save revision %s: %w", rev.ID, err)
	}
	return nil
}

func (s *RevisionStore) Delete(ctx context.Context, rev *content.Revision) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_revision WHERE id=$1`, rev.ID); err != nil {
		return fmt.Errorf("delete revision %s: %w", rev.ID, err)
	}
	return nil
}

// FindByContentAndNumber fetches the committed history row for one revision
// number of a node.
func (s *RevisionStore) FindByContentAndNumber(ctx context.Context, contentUID string, number int) (*content.Revision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+revisionColumns+`
		FROM content_revision
		WHERE content_uid=$1 AND revision=$2 AND state=$3
		ORDER BY modified_at DESC
		LIMIT 1
	`, contentUID, number, int(content.RevisionCommitted))
	rev, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content %s has no revision %d", contentUID, number)
	}
	if err != nil {
		return nil, fmt.Errorf("load revision %d of %s: %w", number, contentUID, err)
	}
	return rev, nil
}

// DeleteOrphans removes revision rows whose content no longer exists. Orphans
// accumulate when content is hard-deleted; they are cleaned lazily at boot.
func (s *RevisionStore) DeleteOrphans(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM content_revision r
		WHERE NOT EXISTS (SELECT 1 FROM content c WHERE c.uid = r.content_uid)
	`)
	if err != nil {
		return 0, fmt.Errorf("delete orphan revisions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("orphan revision rows: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRevision(row rowScanner) (*content.Revision, error) {
	var (
		rev        content.Revision
		state      int
		accept     []byte
		slots      []byte
		refs       []byte
		params     []byte
		comment    sql.NullString
		createdAt  time.Time
		modifiedAt time.Time
	)
	err := row.Scan(&rev.ID, &rev.ContentUID, &rev.ContentType, &rev.Owner, &rev.Revision,
		&state, &rev.Label, &comment, &accept, &rev.MinEntry, &rev.MaxEntry,
		&slots, &refs, &params, &createdAt, &modifiedAt)
	if err != nil {
		return nil, err
	}
	rev.State = content.RevisionState(state)
	rev.Comment = comment.String
	rev.CreatedAt = createdAt
	rev.ModifiedAt = modifiedAt

	if len(accept) > 0 {
		if err := json.Unmarshal(accept, &rev.Accept); err != nil {
			return nil, fmt.Errorf("decode revision accept: %w", err)
		}
	}
	if len(slots) > 0 {
		if err := json.Unmarshal(slots, &rev.Slots); err != nil {
			return nil, fmt.Errorf("decode revision slots: %w", err)
		}
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &rev.Refs); err != nil {
			return nil, fmt.Errorf("decode revision refs: %w", err)
		}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &rev.Params); err != nil {
			return nil, fmt.Errorf("decode revision params: %w", err)
		}
	}
	return &rev, nil
}
