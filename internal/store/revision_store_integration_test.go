package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"backbee/engine/internal/content"
)

func openRevisionDB(t *testing.T) (context.Context, *sql.DB, *ContentStore, *RevisionStore) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, testDatabaseURL(t))
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	for _, table := range []string{"content", "content_revision"} {
		if _, err := db.ExecContext(ctx, "TRUNCATE "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}

	registry := content.NewRegistry()
	registry.Register(&content.Definition{
		Type:  "element/text",
		Slots: map[string]content.SlotDef{"body": {}},
	})
	registry.Register(&content.Definition{
		Type: "article",
		Slots: map[string]content.SlotDef{
			"body": {Accept: []string{"element/text"}},
		},
	})

	contents := NewContentStore(db, registry)
	return ctx, db, contents, NewRevisionStore(db, contents)
}

func TestUpdateRebasesDraftAfterCompetingCommit(t *testing.T) {
	ctx, _, contents, revisions := openRevisionDB(t)

	textDef, _ := contents.Registry().Definition("element/text")
	articleDef, _ := contents.Registry().Definition("article")

	child := content.NewContent("rs-child", textDef)
	child.Revision = 1
	child.State = content.StateNormal
	if err := contents.Save(ctx, child); err != nil {
		t.Fatalf("save child: %v", err)
	}

	node := content.NewContent("rs-node", articleDef)
	node.Revision = 1
	node.State = content.StateNormal
	node.Slots["body"] = content.RefValue(content.Ref{Type: "element/text", UID: "rs-child"})
	if err := contents.Save(ctx, node); err != nil {
		t.Fatalf("save node: %v", err)
	}

	draft, err := revisions.GetDraft(ctx, node, "alice", true)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if draft == nil || draft.Revision != 1 || draft.State != content.RevisionModified {
		t.Fatalf("checkout draft = %+v, want MODIFIED capturing revision 1", draft)
	}

	// No competing commit yet: nothing to rebase onto.
	if _, err := revisions.Update(ctx, draft); !errors.Is(err, ErrUpToDate) {
		t.Fatalf("expected ErrUpToDate, got %v", err)
	}

	// A competing commit advances the live counter behind the draft's back.
	node.Revision = 2
	if err := contents.Save(ctx, node); err != nil {
		t.Fatalf("competing commit: %v", err)
	}

	rebased, err := revisions.Update(ctx, draft)
	if err != nil {
		t.Fatalf("update stale draft: %v", err)
	}
	if rebased != draft {
		t.Fatal("update must hand back the rebased draft itself")
	}
	resolved, ok := rebased.Resolved("rs-child")
	if !ok {
		t.Fatal("rebased draft must carry re-resolved subcontents")
	}
	if resolved != child.Meta() {
		t.Fatal("re-resolved subcontent must be the managed instance")
	}
}

func TestGetDraftHealsDuplicateRows(t *testing.T) {
	ctx, db, contents, revisions := openRevisionDB(t)

	articleDef, _ := contents.Registry().Definition("article")
	node := content.NewContent("rs-dup", articleDef)
	node.Revision = 1
	node.State = content.StateNormal
	if err := contents.Save(ctx, node); err != nil {
		t.Fatalf("save node: %v", err)
	}

	older := node.NewDraft("alice", "rs-dup-old")
	if err := revisions.Save(ctx, older); err != nil {
		t.Fatalf("save older draft: %v", err)
	}
	fresher := node.NewDraft("alice", "rs-dup-new")
	fresher.ModifiedAt = older.ModifiedAt.Add(time.Minute)
	if err := revisions.Save(ctx, fresher); err != nil {
		t.Fatalf("save fresher draft: %v", err)
	}

	draft, err := revisions.GetDraft(ctx, node, "alice", false)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if draft == nil || draft.ID != "rs-dup-new" {
		t.Fatalf("draft = %+v, want the freshest row kept", draft)
	}

	var remaining int
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM content_revision WHERE content_uid=$1 AND owner=$2
	`, "rs-dup", "alice").Scan(&remaining)
	if err != nil {
		t.Fatalf("count drafts: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("draft rows = %d, duplicates must be deleted", remaining)
	}
}
