package engine

import (
	"context"

	"backbee/engine/internal/content"
)

// Format selects the JSON projection of a content node.
type Format int

const (
	// FormatDefault serializes the node's committed data.
	FormatDefault Format = iota
	// FormatDefinition serializes the node's schema, as a fresh empty
	// instance of its type would look: no data, only structure.
	FormatDefinition
	// FormatConcise serializes just enough to list the node.
	FormatConcise
)

// Iconizer optionally rewrites the image key of a projection, typically to a
// presigned object-store URL.
type Iconizer interface {
	Rewrite(ctx context.Context, image string) string
}

// WithIconizer installs the image rewriter used by JSONEncode.
func (m *Manager) WithIconizer(i Iconizer) *Manager {
	m.iconizer = i
	return m
}

// JSONEncode projects one node into the wire shape of the REST boundary.
func (m *Manager) JSONEncode(ctx context.Context, node content.Node, format Format) map[string]any {
	meta := node.Meta()

	switch format {
	case FormatConcise:
		return map[string]any{
			"uid":   meta.UID,
			"type":  meta.Type,
			"label": meta.Label,
		}
	case FormatDefinition:
		return m.encodeDefinition(meta.Def)
	default:
		return m.encodeDefault(ctx, node)
	}
}

// JSONEncodeCollection projects a list of nodes under one format.
func (m *Manager) JSONEncodeCollection(ctx context.Context, nodes []content.Node, format Format) []map[string]any {
	out := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, m.JSONEncode(ctx, node, format))
	}
	return out
}

func (m *Manager) encodeDefault(ctx context.Context, node content.Node) map[string]any {
	meta := node.Meta()
	params := effectiveParams(meta)

	if image, ok := params["image"].(string); ok && m.iconizer != nil {
		params["image"] = m.iconizer.Rewrite(ctx, image)
	}

	out := map[string]any{
		"uid":        meta.UID,
		"type":       meta.Type,
		"state":      meta.State.String(),
		"revision":   meta.Revision,
		"label":      meta.Label,
		"parameters": params,
	}

	if set, ok := node.(*content.ContentSet); ok {
		elements := make([]map[string]any, 0, len(set.Refs))
		for _, ref := range set.Refs {
			elements = append(elements, map[string]any{"type": ref.Type, "uid": ref.UID})
		}
		out["elements"] = elements
		return out
	}

	elements := make(map[string]any, len(meta.Slots))
	for key, value := range meta.Slots {
		elements[key] = encodeSlotValue(value)
	}
	out["elements"] = elements
	return out
}

// encodeDefinition describes the schema, never instance data. The projection
// is what a fresh empty instance of the type would serialize to.
func (m *Manager) encodeDefinition(def *content.Definition) map[string]any {
	if def == nil {
		return map[string]any{}
	}

	params := make(map[string]any, len(def.Params))
	for key, value := range def.Params {
		params[key] = value
	}

	out := map[string]any{
		"type":       def.Type,
		"parameters": params,
	}

	if def.IsSet {
		out["accept"] = append([]string(nil), def.Accept...)
		out["minentry"] = def.MinEntry
		out["maxentry"] = def.MaxEntry
		out["elements"] = []map[string]any{}
		return out
	}

	elements := make(map[string]any, len(def.Slots))
	for _, name := range def.SlotNames() {
		slot := def.Slots[name]
		if slot.IsScalar() {
			elements[name] = map[string]any{"scalar": true}
			continue
		}
		elements[name] = map[string]any{"accept": append([]string(nil), slot.Accept...)}
	}
	out["elements"] = elements
	return out
}

func encodeSlotValue(value content.SlotValue) any {
	switch value.Kind {
	case content.SlotScalar:
		return value.Scalar
	case content.SlotRef:
		if value.Ref == nil {
			return nil
		}
		return map[string]any{"type": value.Ref.Type, "uid": value.Ref.UID}
	case content.SlotRefList:
		refs := make([]map[string]any, 0, len(value.Refs))
		for _, ref := range value.Refs {
			refs = append(refs, map[string]any{"type": ref.Type, "uid": ref.UID})
		}
		return refs
	}
	return nil
}

// effectiveParams overlays committed overrides onto the compiled defaults.
func effectiveParams(meta *content.Content) map[string]any {
	out := make(map[string]any)
	if meta.Def != nil {
		for key, value := range meta.Def.Params {
			out[key] = value
		}
	}
	for key, value := range meta.Params {
		out[key] = value
	}
	return out
}
