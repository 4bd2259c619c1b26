package heap

import (
	"fmt"
	"strings"
)

// InspectionResult is a structured view of one object and, up to some
// depth, of the objects it refers to.
type InspectionResult struct {
	Addr     Addr
	TypeName string
	Size     int
	Len      int
	Flags    []string
	// Value is a one-line summary.
	Value  string
	Fields []FieldInfo
	// Items previews at most MaxItemPreview items.
	Items []FieldInfo
}

// FieldInfo is one word of an inspected object.
type FieldInfo struct {
	Name  string
	Word  uint64
	IsRef bool
	Ref   *InspectionResult // nil for words, nil refs and depth cut-offs
}

// MaxItemPreview is the number of items Inspect reports per object.
const MaxItemPreview = 10

// DefaultInspectDepth is the recursion depth used by Inspect.
const DefaultInspectDepth = 3

// Inspect returns a tree describing r's object, following references down
// to depth levels. Objects already shown higher up the tree are reported
// as summaries, so cycles terminate.
func (h *Heap) Inspect(r Ref, depth int) *InspectionResult {
	h.lock()
	defer h.unlock()
	if depth < 0 {
		depth = DefaultInspectDepth
	}
	return h.inspect(h.deref(r), depth, make(map[Addr]bool))
}

func (h *Heap) inspect(a Addr, depth int, seen map[Addr]bool) *InspectionResult {
	ti := h.typeAt(a)
	hdr := h.header(a)
	n := h.length(a, ti)
	result := &InspectionResult{
		Addr:     a,
		TypeName: ti.desc.Name,
		Size:     h.objectWords(a) * WordSize,
		Len:      n,
		Flags:    flagNames(hdr),
	}
	if ti.desc.Varsized {
		result.Value = fmt.Sprintf("a %s[%d] @%#x", ti.desc.Name, n, uint64(a))
	} else {
		result.Value = fmt.Sprintf("a %s @%#x", ti.desc.Name, uint64(a))
	}
	if depth <= 0 || seen[a] {
		return result
	}
	seen[a] = true
	defer delete(seen, a)

	word := func(name string, slot Addr, isRef bool) FieldInfo {
		f := FieldInfo{Name: name, Word: h.mem.load(slot), IsRef: isRef}
		if isRef && f.Word != 0 {
			f.Ref = h.inspect(Addr(f.Word), depth-1, seen)
		}
		return f
	}

	// a hook-traced type has no layout to report
	if ti.hook != nil {
		h.traceObject(a, func(slot Addr) {
			name := fmt.Sprintf("slot%d", (slot-a)/WordSize)
			result.Fields = append(result.Fields, word(name, slot, true))
		})
		return result
	}
	if ti.id == typeWeakref {
		result.Fields = append(result.Fields, FieldInfo{Name: "target", Word: h.mem.load(a + WordSize)})
		return result
	}
	for i := 0; i < ti.desc.FixedWords; i++ {
		result.Fields = append(result.Fields, word(fmt.Sprintf("field%d", i), h.fieldAddr(a, ti, i), ti.fixedRef[i]))
	}
	for i := 0; i < min(n, MaxItemPreview); i++ {
		for j := 0; j < ti.desc.ItemWords; j++ {
			result.Items = append(result.Items, word(fmt.Sprintf("[%d].%d", i, j), h.itemAddr(a, ti, i, j), ti.itemRef[j]))
		}
	}
	return result
}

func flagNames(hdr header) []string {
	var out []string
	for _, f := range []struct {
		bit  uint32
		name string
	}{
		{flagTrackYoungPtrs, "track-young"},
		{flagHasCards, "cards"},
		{flagPinned, "pinned"},
		{flagHasFinalizer, "finalizer"},
		{flagIgnoreFinalizer, "ignore-finalizer"},
		{flagHashTaken, "hashed"},
	} {
		if hdr.has(f.bit) {
			out = append(out, f.name)
		}
	}
	return out
}

// String returns a short multi-line representation: the object and its
// immediate fields.
func (r *InspectionResult) String() string {
	var sb strings.Builder
	sb.WriteString(r.Value)
	if len(r.Flags) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(r.Flags, " "))
		sb.WriteString("]")
	}
	sb.WriteString("\n")
	for _, f := range r.Fields {
		fmt.Fprintf(&sb, "  %s: %s\n", f.Name, f.summary())
	}
	if len(r.Items) > 0 {
		fmt.Fprintf(&sb, "  items (showing %d of %d):\n", min(r.Len, MaxItemPreview), r.Len)
		for _, f := range r.Items {
			fmt.Fprintf(&sb, "    %s: %s\n", f.Name, f.summary())
		}
	}
	return sb.String()
}

func (f FieldInfo) summary() string {
	switch {
	case !f.IsRef:
		return fmt.Sprintf("%d", f.Word)
	case f.Word == 0:
		return "nil"
	case f.Ref != nil:
		return f.Ref.Value
	default:
		return fmt.Sprintf("@%#x", f.Word)
	}
}

// PrettyPrint returns the whole tree, one nesting level per indent.
func (r *InspectionResult) PrettyPrint() string {
	var sb strings.Builder
	r.prettyPrint(&sb, 0)
	return sb.String()
}

func (r *InspectionResult) prettyPrint(sb *strings.Builder, indent int) {
	prefix := strings.Repeat("  ", indent)
	sb.WriteString(prefix)
	sb.WriteString(r.Value)
	sb.WriteString("\n")
	for _, list := range [][]FieldInfo{r.Fields, r.Items} {
		for _, f := range list {
			fmt.Fprintf(sb, "%s  %s: %s\n", prefix, f.Name, f.summary())
			if f.Ref != nil && (len(f.Ref.Fields) > 0 || len(f.Ref.Items) > 0) {
				f.Ref.prettyPrint(sb, indent+2)
			}
		}
	}
}
