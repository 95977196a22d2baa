package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"backbee/engine/internal/content"
	"backbee/engine/internal/store"
	"backbee/engine/internal/util"
)

// ContentStore is the unit-of-work surface the manager needs from content
// persistence.
type ContentStore interface {
	FindOneByTypeAndUID(ctx context.Context, typ, uid string) (content.Node, error)
	Save(ctx context.Context, node content.Node) error
	Remove(ctx context.Context, node content.Node) error
	Managed(uid string) bool
	Registry() *content.Registry
	RefreshKeywordLinks(ctx context.Context, contentUID string, keywordUIDs []string) error
	CleanKeywordLinks(ctx context.Context, contentUID string) error
}

// RevisionStore owns draft rows and the optimistic-concurrency checks.
type RevisionStore interface {
	GetDraft(ctx context.Context, node content.Node, owner string, checkoutOnMissing bool) (*content.Revision, error)
	Update(ctx context.Context, rev *content.Revision) (*content.Revision, error)
	Save(ctx context.Context, rev *content.Revision) error
	Delete(ctx context.Context, rev *content.Revision) error
	FindByContentAndNumber(ctx context.Context, contentUID string, number int) (*content.Revision, error)
	LoadSubcontents(ctx context.Context, rev *content.Revision) error
}

// PageStore resolves which pages a content set fills.
type PageStore interface {
	FindPagesContaining(ctx context.Context, setUID string) ([]*content.Page, error)
}

// Events is the observability hook for the listener layer: the manager reports
// graph mutations, the listeners drive indexation refresh and cache
// invalidation from them.
type Events interface {
	ChildrenChanged(ctx context.Context, contentUID string, childUIDs []string) error
	ContentRemoved(ctx context.Context, contentUID string) error
}

// TokenProvider yields the security identity that owns drafts. UniformToken is
// the shared identity for contexts without an authenticated user.
type TokenProvider interface {
	Identity(ctx context.Context) string
}

type UniformToken string

func (t UniformToken) Identity(context.Context) string { return string(t) }

// ResolutionPolicy controls how PrepareElements treats references that do not
// resolve: best effort drops them silently, strict fails the whole patch.
type ResolutionPolicy int

const (
	ResolutionBestEffort ResolutionPolicy = iota
	ResolutionStrict
)

// Patch is the {parameters, elements} envelope applied by Update. Elements
// must already be resolved to managed instances (PrepareElements does that).
type Patch struct {
	Parameters map[string]any
	Elements   *ElementsPatch
}

// ElementsPatch carries the element half of a patch: a replacement child list
// for set content, per-slot values for element content.
type ElementsPatch struct {
	List  []*content.Content
	Slots map[string]content.SlotValue
}

// Scope names the fields a commit or revert explicitly touches. A nil slice
// means the category was absent from the request; for commit, the full draft
// state of an absent category goes through untouched.
type Scope struct {
	Parameters []string
	Elements   []string
}

func (s Scope) empty() bool { return s.Parameters == nil && s.Elements == nil }

type noEvents struct{}

func (noEvents) ChildrenChanged(context.Context, string, []string) error { return nil }
func (noEvents) ContentRemoved(context.Context, string) error            { return nil }

// Manager implements the commit/revert protocol and the patch-application
// surface consumed by the REST layer.
type Manager struct {
	contents  ContentStore
	revisions RevisionStore
	pages     PageStore
	events    Events
	tokens    TokenProvider
	iconizer  Iconizer
}

func NewManager(contents ContentStore, revisions RevisionStore, pages PageStore, events Events, tokens TokenProvider) *Manager {
	if events == nil {
		events = noEvents{}
	}
	if tokens == nil {
		tokens = UniformToken("uniform")
	}
	return &Manager{
		contents:  contents,
		revisions: revisions,
		pages:     pages,
		events:    events,
		tokens:    tokens,
	}
}

// GetDraft resolves the current user's open draft for the node, checking one
// out when requested.
func (m *Manager) GetDraft(ctx context.Context, node content.Node, checkoutOnMissing bool) (*content.Revision, error) {
	return m.revisions.GetDraft(ctx, node, m.tokens.Identity(ctx), checkoutOnMissing)
}

// Update applies a patch to the node through its draft, checking one out if
// needed. Every write routes to the draft; the live node is untouched until
// commit.
func (m *Manager) Update(ctx context.Context, node content.Node, patch Patch) error {
	if patch.Parameters == nil && patch.Elements == nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "update requires parameters or elements", nil)
	}

	meta := node.Meta()

	draft, err := m.GetDraft(ctx, node, true)
	if err != nil {
		return fmt.Errorf("resolve draft: %w", err)
	}
	if draft == nil {
		// GetDraft's fail-safe can come back empty-handed; without an open
		// draft every write below would land on the committed node.
		return domainError(http.StatusConflict, "DRAFT_UNAVAILABLE", fmt.Sprintf("no draft could be opened for content %s, retry the edit", meta.UID), nil)
	}

	for key, value := range patch.Parameters {
		meta.SetParam(key, value)
	}

	if patch.Elements == nil {
		return nil
	}

	if set, ok := node.(*content.ContentSet); ok {
		set.Clear()
		for _, child := range patch.Elements.List {
			if child == nil || !m.contents.Managed(child.UID) {
				continue
			}
			set.Push(child)
		}
		return nil
	}

	for key, value := range patch.Elements.Slots {
		if m.slotAcceptsKeyword(meta, key) {
			if err := m.contents.RefreshKeywordLinks(ctx, meta.UID, keywordUIDs(value)); err != nil {
				return err
			}
		}
		meta.SetSlot(key, value)
	}
	return nil
}

// PrepareElements normalizes an untrusted patch payload: a scalar string (when
// allowed), a single {type, uid} reference, or a list of references. Resolved
// nodes are returned alongside the slot value. Under the best-effort policy
// unresolvable references are dropped; a dropped single reference comes back
// as a zero SlotValue.
func (m *Manager) PrepareElements(ctx context.Context, payload any, acceptScalar bool, policy ResolutionPolicy) (content.SlotValue, []*content.Content, error) {
	switch v := payload.(type) {
	case string:
		if !acceptScalar {
			return content.SlotValue{}, nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "scalar value not accepted here", nil)
		}
		return content.ScalarValue(v), nil, nil
	case content.Ref:
		return m.prepareRef(ctx, v, policy)
	case map[string]any:
		ref, ok := refFromMap(v)
		if !ok {
			return content.SlotValue{}, nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reference requires type and uid", nil)
		}
		return m.prepareRef(ctx, ref, policy)
	case []content.Ref:
		return m.prepareList(ctx, v, policy)
	case []any:
		refs := make([]content.Ref, 0, len(v))
		for _, entry := range v {
			item, ok := entry.(map[string]any)
			if !ok {
				return content.SlotValue{}, nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "list entries must be {type, uid} references", nil)
			}
			ref, ok := refFromMap(item)
			if !ok {
				return content.SlotValue{}, nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reference requires type and uid", nil)
			}
			refs = append(refs, ref)
		}
		return m.prepareList(ctx, refs, policy)
	default:
		return content.SlotValue{}, nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unsupported element payload", nil)
	}
}

func (m *Manager) prepareRef(ctx context.Context, ref content.Ref, policy ResolutionPolicy) (content.SlotValue, []*content.Content, error) {
	node, err := m.contents.FindOneByTypeAndUID(ctx, ref.Type, ref.UID)
	if errors.Is(err, store.ErrContentNotFound) {
		if policy == ResolutionStrict {
			return content.SlotValue{}, nil, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("content %s/%s does not exist", ref.Type, ref.UID), nil)
		}
		return content.SlotValue{}, nil, nil
	}
	if err != nil {
		return content.SlotValue{}, nil, err
	}
	return content.RefValue(ref), []*content.Content{node.Meta()}, nil
}

func (m *Manager) prepareList(ctx context.Context, refs []content.Ref, policy ResolutionPolicy) (content.SlotValue, []*content.Content, error) {
	kept := make([]content.Ref, 0, len(refs))
	nodes := make([]*content.Content, 0, len(refs))
	for _, ref := range refs {
		node, err := m.contents.FindOneByTypeAndUID(ctx, ref.Type, ref.UID)
		if errors.Is(err, store.ErrContentNotFound) {
			if policy == ResolutionStrict {
				return content.SlotValue{}, nil, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("content %s/%s does not exist", ref.Type, ref.UID), nil)
			}
			continue
		}
		if err != nil {
			return content.SlotValue{}, nil, err
		}
		kept = append(kept, ref)
		nodes = append(nodes, node.Meta())
	}
	return content.RefListValue(kept), nodes, nil
}

// Commit merges the current user's draft into the live node and advances the
// revision counter. The draft's captured counter must still match the live
// one; a draft overtaken by another commit is parked CONFLICTED and the commit
// refused. A non-empty scope commits only the named fields of each named
// category; fields outside a named category but still resident in the draft go
// through as well.
func (m *Manager) Commit(ctx context.Context, node content.Node, scope Scope) error {
	meta := node.Meta()

	draft, err := m.GetDraft(ctx, node, false)
	if err != nil {
		return fmt.Errorf("resolve draft: %w", err)
	}
	if draft == nil {
		return domainError(http.StatusBadRequest, "NOTHING_TO_COMMIT", fmt.Sprintf("content %s has no draft to commit", meta.UID), nil)
	}

	if draft.State == content.RevisionConflicted {
		return domainError(http.StatusConflict, "REVISION_CONFLICT", fmt.Sprintf("draft of content %s is conflicted, resolve or revert it first", meta.UID), nil)
	}
	if draft.Revision != meta.Revision {
		draft.MarkConflicted()
		if err := m.revisions.Save(ctx, draft); err != nil {
			return err
		}
		return domainError(http.StatusConflict, "REVISION_CONFLICT", fmt.Sprintf("content %s is at revision %d, the draft captured %d", meta.UID, meta.Revision, draft.Revision), nil)
	}

	if err := m.contents.Registry().Ensure(draftRefs(draft)); err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	if !scope.empty() {
		m.prepareDraftForCommit(draft, node, scope)
	}

	childUIDs, err := m.executeCommit(ctx, node, draft)
	if err != nil {
		return err
	}

	if err := m.events.ChildrenChanged(ctx, meta.UID, childUIDs); err != nil {
		return err
	}

	return m.commitPostProcess(ctx, node, draft)
}

// prepareDraftForCommit implements the partial-commit merge: within each
// category named by the scope, fields not explicitly listed are reset to their
// live value so this commit does not carry them. Categories absent from the
// scope commit their full draft state.
func (m *Manager) prepareDraftForCommit(draft *content.Revision, node content.Node, scope Scope) {
	meta := node.Meta()

	if scope.Parameters != nil {
		named := stringSet(scope.Parameters)
		for key := range draft.Params {
			if named[key] {
				continue
			}
			if live, ok := meta.Params[key]; ok {
				draft.Params[key] = live
			} else {
				delete(draft.Params, key)
			}
		}
		for key, live := range meta.Params {
			if named[key] {
				continue
			}
			if _, ok := draft.Params[key]; !ok {
				if draft.Params == nil {
					draft.Params = make(map[string]any)
				}
				draft.Params[key] = live
			}
		}
	}

	if scope.Elements != nil {
		if _, ok := node.(*content.ContentSet); ok {
			// The reference list commits whole; nothing finer-grained to
			// backfill.
			return
		}
		named := stringSet(scope.Elements)
		for key := range draft.Slots {
			if named[key] {
				continue
			}
			if live, ok := meta.Slots[key]; ok {
				draft.Slots[key] = live
			} else {
				delete(draft.Slots, key)
			}
		}
		for key, live := range meta.Slots {
			if named[key] {
				continue
			}
			if _, ok := draft.Slots[key]; !ok {
				if draft.Slots == nil {
					draft.Slots = make(map[string]content.SlotValue)
				}
				draft.Slots[key] = live
			}
		}
	}
}

// executeCommit replays the draft onto the live node against managed
// instances, consumes the draft into a history row, and persists both.
// Returns the committed child uids for the listener layer.
func (m *Manager) executeCommit(ctx context.Context, node content.Node, draft *content.Revision) ([]string, error) {
	meta := node.Meta()
	meta.ClearDraft()

	var childUIDs []string

	if set, ok := node.(*content.ContentSet); ok {
		refs := make([]content.Ref, 0, len(draft.Refs))
		children := make(map[string]*content.Content, len(draft.Refs))
		for _, ref := range draft.Refs {
			child, err := m.resolveManaged(ctx, draft, ref)
			if err != nil {
				return nil, err
			}
			if child == nil {
				continue
			}
			refs = append(refs, ref)
			children[ref.UID] = child
			childUIDs = append(childUIDs, ref.UID)
		}
		set.ReplayCommit(refs, children)
	} else {
		slots := make(map[string]content.SlotValue, len(draft.Slots))
		for key, value := range draft.Slots {
			pruned, kept, err := m.pruneDanglingRefs(ctx, draft, value)
			if err != nil {
				return nil, err
			}
			childUIDs = append(childUIDs, kept...)
			if m.slotAcceptsKeyword(meta, key) {
				if err := m.contents.RefreshKeywordLinks(ctx, meta.UID, keywordUIDs(pruned)); err != nil {
					return nil, err
				}
			}
			slots[key] = pruned
		}
		meta.Slots = slots
	}

	draft.Commit()
	meta.Label = draft.Label
	meta.Params = copyParams(draft.Params)
	meta.Revision = draft.Revision
	meta.State = content.StateNormal
	meta.ModifiedAt = time.Now()

	if err := m.contents.Save(ctx, node); err != nil {
		return nil, err
	}
	if err := m.revisions.Save(ctx, draft); err != nil {
		return nil, err
	}
	return childUIDs, nil
}

// pruneDanglingRefs drops references whose target no longer exists before a
// slot value is committed, the same treatment a set's reference list gets. A
// dangling single reference commits as an empty value, a list loses the entry.
// Returns the surviving child uids alongside the pruned value.
func (m *Manager) pruneDanglingRefs(ctx context.Context, draft *content.Revision, value content.SlotValue) (content.SlotValue, []string, error) {
	switch value.Kind {
	case content.SlotRef:
		if value.Ref == nil {
			return value, nil, nil
		}
		child, err := m.resolveManaged(ctx, draft, *value.Ref)
		if err != nil {
			return content.SlotValue{}, nil, err
		}
		if child == nil {
			return content.SlotValue{Kind: content.SlotRef}, nil, nil
		}
		return value, []string{value.Ref.UID}, nil
	case content.SlotRefList:
		kept := make([]content.Ref, 0, len(value.Refs))
		var uids []string
		for _, ref := range value.Refs {
			child, err := m.resolveManaged(ctx, draft, ref)
			if err != nil {
				return content.SlotValue{}, nil, err
			}
			if child == nil {
				continue
			}
			kept = append(kept, ref)
			uids = append(uids, ref.UID)
		}
		return content.RefListValue(kept), uids, nil
	default:
		return value, nil, nil
	}
}

// resolveManaged hands back a managed instance for the ref, nil when the
// target no longer exists.
func (m *Manager) resolveManaged(ctx context.Context, draft *content.Revision, ref content.Ref) (*content.Content, error) {
	if resolved, ok := draft.Resolved(ref.UID); ok && m.contents.Managed(ref.UID) {
		return resolved, nil
	}
	node, err := m.contents.FindOneByTypeAndUID(ctx, ref.Type, ref.UID)
	if errors.Is(err, store.ErrContentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve subcontent %s: %w", ref.UID, err)
	}
	return node.Meta(), nil
}

// commitPostProcess re-arms editing: a consumed draft that still carries both
// a parameter diff and an element diff is cloned into a fresh MODIFIED draft
// at the new counter, so committing does not necessarily close the edit.
func (m *Manager) commitPostProcess(ctx context.Context, node content.Node, committed *content.Revision) error {
	if len(committed.Params) == 0 {
		return nil
	}
	if len(committed.Slots) == 0 && len(committed.Refs) == 0 {
		return nil
	}

	meta := node.Meta()
	rearmed := committed.CloneAsDraft(util.NewID("rev"), committed.Owner, "", meta.Revision)
	if err := m.revisions.Save(ctx, rearmed); err != nil {
		return err
	}
	meta.AttachDraft(rearmed)
	return nil
}

// Revert copies live values back onto the draft, discarding the named edits.
// An empty scope reverts everything. A draft left with no remaining diff is
// discarded; never-committed content is deleted along with it.
func (m *Manager) Revert(ctx context.Context, node content.Node, scope Scope) error {
	meta := node.Meta()

	draft, err := m.GetDraft(ctx, node, false)
	if err != nil {
		return fmt.Errorf("resolve draft: %w", err)
	}
	if draft == nil {
		return domainError(http.StatusBadRequest, "NOTHING_TO_REVERT", fmt.Sprintf("content %s has no draft to revert", meta.UID), nil)
	}

	if scope.empty() {
		scope = fullRevertScope(node, draft)
	}

	if err := m.executeRevert(ctx, node, draft, scope); err != nil {
		return err
	}
	return m.revertPostProcess(ctx, node, draft)
}

// fullRevertScope expands an empty patch to "revert everything".
func fullRevertScope(node content.Node, draft *content.Revision) Scope {
	meta := node.Meta()

	params := make(map[string]bool)
	for key := range draft.Params {
		params[key] = true
	}
	for key := range meta.Params {
		params[key] = true
	}

	scope := Scope{Parameters: make([]string, 0, len(params)), Elements: []string{}}
	for key := range params {
		scope.Parameters = append(scope.Parameters, key)
	}

	if _, ok := node.(*content.ContentSet); !ok {
		slots := make(map[string]bool)
		for key := range draft.Slots {
			slots[key] = true
		}
		for key := range meta.Slots {
			slots[key] = true
		}
		for key := range slots {
			scope.Elements = append(scope.Elements, key)
		}
	}
	return scope
}

func (m *Manager) executeRevert(ctx context.Context, node content.Node, draft *content.Revision, scope Scope) error {
	meta := node.Meta()

	for _, key := range scope.Parameters {
		if live, ok := meta.Params[key]; ok {
			draft.SetParam(key, live)
		} else {
			delete(draft.Params, key)
		}
	}

	if scope.Elements == nil {
		return nil
	}

	if set, ok := node.(*content.ContentSet); ok {
		draft.Refs = append([]content.Ref(nil), set.Refs...)
		return nil
	}

	keywordTouched := false
	for _, key := range scope.Elements {
		if live, ok := meta.Slots[key]; ok {
			draft.SetSlot(key, live)
		} else {
			delete(draft.Slots, key)
		}
		if m.slotAcceptsKeyword(meta, key) {
			keywordTouched = true
		}
	}
	if keywordTouched {
		return m.contents.RefreshKeywordLinks(ctx, meta.UID, liveKeywordUIDs(meta))
	}
	return nil
}

// revertPostProcess discards a draft whose diff is now empty. Content that was
// never committed has nothing to fall back to and is deleted with it.
func (m *Manager) revertPostProcess(ctx context.Context, node content.Node, draft *content.Revision) error {
	meta := node.Meta()

	if draft.ParamsDirty(meta) || draft.ElementsDirty(node) {
		return m.revisions.Save(ctx, draft)
	}

	if err := m.revisions.Delete(ctx, draft); err != nil {
		return err
	}
	meta.ClearDraft()

	if meta.State != content.StateNew {
		return nil
	}
	if err := m.contents.Remove(ctx, node); err != nil {
		return err
	}
	return m.events.ContentRemoved(ctx, meta.UID)
}

// RevertToRevision opens a fresh draft seeded from a historical revision. The
// current draft, if any, is dropped first; asking for the current revision is
// a no-op. This is "create a new edit seeded from history", not a destructive
// rollback.
func (m *Manager) RevertToRevision(ctx context.Context, node content.Node, number int) (*content.Revision, error) {
	meta := node.Meta()
	owner := m.tokens.Identity(ctx)

	draft, err := m.GetDraft(ctx, node, false)
	if err != nil {
		return nil, fmt.Errorf("resolve draft: %w", err)
	}
	if draft != nil {
		if err := m.revisions.Delete(ctx, draft); err != nil {
			return nil, err
		}
		meta.ClearDraft()
	}

	if number == meta.Revision {
		return nil, nil
	}

	historical, err := m.revisions.FindByContentAndNumber(ctx, meta.UID, number)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	}

	seeded := historical.CloneAsDraft(util.NewID("rev"), owner, fmt.Sprintf("Revert to revision %d", number), meta.Revision)
	if err := m.revisions.Save(ctx, seeded); err != nil {
		return nil, err
	}
	meta.AttachDraft(seeded)
	return seeded, nil
}

// IsMainZone returns the page whose layout marks this set's zone as the main
// body region, nil when the set fills no main zone anywhere.
func (m *Manager) IsMainZone(ctx context.Context, set *content.ContentSet) (*content.Page, error) {
	pages, err := m.pages.FindPagesContaining(ctx, set.UID)
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		zi, ok := page.ZoneIndexOf(set.UID)
		if !ok {
			continue
		}
		if zone := page.Zone(zi); zone != nil && zone.MainZone {
			return page, nil
		}
	}
	return nil, nil
}

func (m *Manager) slotAcceptsKeyword(meta *content.Content, slot string) bool {
	if meta.Def == nil {
		return false
	}
	def, ok := meta.Def.Slots[slot]
	return ok && def.AcceptsKeyword()
}

func draftRefs(draft *content.Revision) []content.Ref {
	refs := append([]content.Ref(nil), draft.Refs...)
	for _, value := range draft.Slots {
		refs = append(refs, value.References()...)
	}
	return refs
}

func keywordUIDs(value content.SlotValue) []string {
	var uids []string
	for _, ref := range value.References() {
		if ref.Type == content.KeywordType {
			uids = append(uids, ref.UID)
		}
	}
	return uids
}

func liveKeywordUIDs(meta *content.Content) []string {
	var uids []string
	for _, value := range meta.Slots {
		uids = append(uids, keywordUIDs(value)...)
	}
	return uids
}

func refFromMap(m map[string]any) (content.Ref, bool) {
	typ, _ := m["type"].(string)
	uid, _ := m["uid"].(string)
	if typ == "" || uid == "" {
		return content.Ref{}, false
	}
	return content.Ref{Type: typ, UID: uid}, true
}

func stringSet(keys []string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, key := range keys {
		out[key] = true
	}
	return out
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for key, value := range params {
		out[key] = value
	}
	return out
}
