package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"backbee/engine/internal/content"
)

// ErrContentNotFound is returned when a (type, uid) pair resolves to nothing.
var ErrContentNotFound = errors.New("content not found")

// ContentStore persists content nodes and keeps an identity map of the
// instances loaded in this session, so references resolved twice hand back the
// same object.
type ContentStore struct {
	db       *sql.DB
	registry *content.Registry

	mu      sync.Mutex
	managed map[string]content.Node
}

func NewContentStore(db *sql.DB, registry *content.Registry) *ContentStore {
	return &ContentStore{
		db:       db,
		registry: registry,
		managed:  make(map[string]content.Node),
	}
}

func (s *ContentStore) Registry() *content.Registry { return s.registry }

// Managed reports whether the session already tracks an instance for the uid.
func (s *ContentStore) Managed(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.managed[uid]
	return ok
}

// Track registers an instance with the session identity map.
func (s *ContentStore) Track(node content.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.managed[node.Meta().UID] = node
}

func (s *ContentStore) tracked(uid string) (content.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.managed[uid]
	return node, ok
}

func (s *ContentStore) forget(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.managed, uid)
}

// FindOneByTypeAndUID resolves a content reference to a managed instance,
// loading it from the database on first access.
func (s *ContentStore) FindOneByTypeAndUID(ctx context.Context, typ, uid string) (content.Node, error) {
	if node, ok := s.tracked(uid); ok {
		if node.Meta().Type != typ {
			return nil, fmt.Errorf("content %s is a %s, not a %s", uid, node.Meta().Type, typ)
		}
		return node, nil
	}

	def, ok := s.registry.Definition(typ)
	if !ok {
		return nil, fmt.Errorf("unknown content type %q", typ)
	}

	var (
		revision    int
		state       int
		label       string
		mainNodeUID sql.NullString
		data        []byte
		params      []byte
		createdAt   time.Time
		modifiedAt  time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT revision, state, label, main_node_uid, data, params, created_at, modified_at
		FROM content
		WHERE uid=$1 AND type=$2
	`, uid, typ).Scan(&revision, &state, &label, &mainNodeUID, &data, &params, &createdAt, &modifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load content %s: %w", uid, err)
	}

	node, err := buildNode(uid, def, revision, state, label, mainNodeUID.String, data, params, createdAt, modifiedAt)
	if err != nil {
		return nil, err
	}
	s.Track(node)
	return node, nil
}

func buildNode(uid string, def *content.Definition, revision, state int, label, mainNodeUID string, data, params []byte, createdAt, modifiedAt time.Time) (content.Node, error) {
	base := content.Content{
		UID:         uid,
		Type:        def.Type,
		Revision:    revision,
		State:       content.State(state),
		Label:       label,
		Def:         def,
		Slots:       make(map[string]content.SlotValue),
		Params:      make(map[string]any),
		MainNodeUID: mainNodeUID,
		CreatedAt:   createdAt,
		ModifiedAt:  modifiedAt,
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &base.Params); err != nil {
			return nil, fmt.Errorf("decode params of %s: %w", uid, err)
		}
	}

	if def.IsSet {
		set := &content.ContentSet{Content: base}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &set.Refs); err != nil {
				return nil, fmt.Errorf("decode refs of %s: %w", uid, err)
			}
		}
		return set, nil
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &base.Slots); err != nil {
			return nil, fmt.Errorf("decode slots of %s: %w", uid, err)
		}
	}
	return &base, nil
}

// Save upserts the node's committed state.
func (s *ContentStore) Save(ctx context.Context, node content.Node) error {
	meta := node.Meta()

	var data []byte
	var err error
	if set, ok := node.(*content.ContentSet); ok {
		data, err = json.Marshal(set.Refs)
	} else {
		data, err = json.Marshal(meta.Slots)
	}
	if err != nil {
		return fmt.Errorf("encode content data: %w", err)
	}
	params, err := json.Marshal(meta.Params)
	if err != nil {
		return fmt.Errorf("encode content params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content (uid, type, revision, state, label, main_node_uid, data, params, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7::jsonb, $8::jsonb, $9, $10)
		ON CONFLICT (uid) DO UPDATE SET
			revision=EXCLUDED.revision,
			state=EXCLUDED.state,
			label=EXCLUDED.label,
			main_node_uid=EXCLUDED.main_node_uid,
			data=EXCLUDED.data,
			params=EXCLUDED.params,
			modified_at=EXCLUDED.modified_at
	`, meta.UID, meta.Type, meta.Revision, int(meta.State), meta.Label, meta.MainNodeUID,
		string(data), string(params), meta.CreatedAt, meta.ModifiedAt)
	if err != nil {
		return fmt.Errorf("save content %s: %w", meta.UID, err)
	}
	s.Track(node)
	return nil
}

// Remove deletes the node's row and its keyword back-links. Closure-table
// cleanup is the indexation store's job, triggered by the removal listener.
func (s *ContentStore) Remove(ctx context.Context, node content.Node) error {
	uid := node.Meta().UID
	if err := s.CleanKeywordLinks(ctx, uid); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM content WHERE uid=$1`, uid); err != nil {
		return fmt.Errorf("delete content %s: %w", uid, err)
	}
	s.forget(uid)
	node.Meta().State = content.StateDeleted
	return nil
}

// RefreshKeywordLinks replaces the keyword back-links of one content node.
// Called whenever a keyword-typed slot is reassigned.
func (s *ContentStore) RefreshKeywordLinks(ctx context.Context, contentUID string, keywordUIDs []string) error {
	if err := s.CleanKeywordLinks(ctx, contentUID); err != nil {
		return err
	}
	for _, keywordUID := range keywordUIDs {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO keyword_content (keyword_uid, content_uid)
			VALUES ($1, $2)
			ON CONFLICT (keyword_uid, content_uid) DO NOTHING
		`, keywordUID, contentUID); err != nil {
			return fmt.Errorf("link keyword %s: %w", keywordUID, err)
		}
	}
	return nil
}

func (s *ContentStore) CleanKeywordLinks(ctx context.Context, contentUID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM keyword_content WHERE content_uid=$1`, contentUID); err != nil {
		return fmt.Errorf("clean keyword links of %s: %w", contentUID, err)
	}
	return nil
}
