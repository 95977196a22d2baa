package content

// Ref is a name-qualified reference to another content node. The (type, uid)
// pair is the persisted shape of every parent-child link; the actual node is
// hydrated on demand by the store.
type Ref struct {
	Type string `json:"type"`
	UID  string `json:"uid"`
}

type SlotKind int

const (
	SlotScalar SlotKind = iota
	SlotRef
	SlotRefList
)

// SlotValue is the value held by one child slot of an element content node:
// a scalar, a single content reference, or an ordered list of references.
type SlotValue struct {
	Kind   SlotKind `json:"kind"`
	Scalar string   `json:"scalar,omitempty"`
	Ref    *Ref     `json:"ref,omitempty"`
	Refs   []Ref    `json:"refs,omitempty"`
}

func ScalarValue(s string) SlotValue {
	return SlotValue{Kind: SlotScalar, Scalar: s}
}

func RefValue(ref Ref) SlotValue {
	return SlotValue{Kind: SlotRef, Ref: &ref}
}

func RefListValue(refs []Ref) SlotValue {
	return SlotValue{Kind: SlotRefList, Refs: append([]Ref(nil), refs...)}
}

// References returns every content reference carried by the value, in order.
func (v SlotValue) References() []Ref {
	switch v.Kind {
	case SlotRef:
		if v.Ref == nil {
			return nil
		}
		return []Ref{*v.Ref}
	case SlotRefList:
		return v.Refs
	default:
		return nil
	}
}

func (v SlotValue) Equal(other SlotValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case SlotScalar:
		return v.Scalar == other.Scalar
	case SlotRef:
		if v.Ref == nil || other.Ref == nil {
			return v.Ref == other.Ref
		}
		return *v.Ref == *other.Ref
	case SlotRefList:
		if len(v.Refs) != len(other.Refs) {
			return false
		}
		for i := range v.Refs {
			if v.Refs[i] != other.Refs[i] {
				return false
			}
		}
		return true
	}
	return false
}

func (v SlotValue) clone() SlotValue {
	out := v
	if v.Ref != nil {
		ref := *v.Ref
		out.Ref = &ref
	}
	if v.Refs != nil {
		out.Refs = append([]Ref(nil), v.Refs...)
	}
	return out
}

func cloneSlots(slots map[string]SlotValue) map[string]SlotValue {
	if slots == nil {
		return nil
	}
	out := make(map[string]SlotValue, len(slots))
	for key, value := range slots {
		out[key] = value.clone()
	}
	return out
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for key, value := range params {
		out[key] = value
	}
	return out
}
