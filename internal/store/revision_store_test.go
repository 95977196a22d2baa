package store

import (
	"context"
	"errors"
	"testing"

	"backbee/engine/internal/content"
)

// The guard dispatch rejects ADDED and CONFLICTED drafts before any query
// runs, so these paths are testable without a database.

func TestUpdateRejectsAddedDraft(t *testing.T) {
	s := NewRevisionStore(nil, nil)
	rev := &content.Revision{State: content.RevisionAdded}

	_, err := s.Update(context.Background(), rev)
	if !errors.Is(err, ErrNotVersioned) {
		t.Fatalf("expected ErrNotVersioned, got %v", err)
	}
}

func TestUpdateRejectsConflictedDraft(t *testing.T) {
	s := NewRevisionStore(nil, nil)
	rev := &content.Revision{State: content.RevisionConflicted}

	_, err := s.Update(context.Background(), rev)
	if !errors.Is(err, ErrConflicted) {
		t.Fatalf("expected ErrConflicted, got %v", err)
	}
}
