package heap

import (
	"fmt"
	"slices"
)

// TypeID identifies a registered layout. Zero is never a valid type.
type TypeID uint32

// Builtin types. Fillers pad holes in bump spaces so that spaces stay
// walkable; weakref is the layout behind MakeWeak.
const (
	typeNone TypeID = iota
	typeFiller1
	typeFiller
	typeWeakref
	firstUserType
)

// TypeDesc describes one allocation shape.
//
// An object is laid out as a header word, a length word when Varsized,
// FixedWords fixed fields and then Len items of ItemWords words each.
// RefWords and ItemRefWords list the field (item) words that hold
// references.
type TypeDesc struct {
	Name         string
	FixedWords   int
	RefWords     []int
	Varsized     bool
	ItemWords    int
	ItemRefWords []int
}

// TraceHook enumerates the reference fields of an object whose layout the
// descriptor cannot express.
type TraceHook func(t *Tracer)

// LightFinalizer runs inside the collection that reclaims an object. It
// only gets a read-only view of the dead object.
type LightFinalizer func(v View)

type typeInfo struct {
	id         TypeID
	desc       TypeDesc
	fixedStart int
	itemStart  int
	fixedRef   []bool
	itemRef    []bool
	hook       TraceHook
	light      LightFinalizer
	instances  int
}

// words returns the object size in words for the given length.
func (ti *typeInfo) words(length int) int {
	if ti.id == typeFiller1 {
		return 1
	}
	n := ti.itemStart + length*ti.desc.ItemWords
	if n < 2 {
		n = 2
	}
	return n
}

func (ti *typeInfo) hasItemRefs() bool {
	return ti.desc.Varsized && len(ti.desc.ItemRefWords) > 0
}

func newTypeInfo(id TypeID, td TypeDesc) (*typeInfo, error) {
	if td.Name == "" {
		return nil, fmt.Errorf("heap: register type: empty name: %w", ErrBadLayout)
	}
	if td.FixedWords < 0 {
		return nil, fmt.Errorf("heap: register type %s: negative field count: %w", td.Name, ErrBadLayout)
	}
	if td.Varsized && td.ItemWords < 1 {
		return nil, fmt.Errorf("heap: register type %s: varsized type needs item words: %w", td.Name, ErrBadLayout)
	}
	if !td.Varsized && (td.ItemWords != 0 || len(td.ItemRefWords) != 0) {
		return nil, fmt.Errorf("heap: register type %s: items on fixed-size type: %w", td.Name, ErrBadLayout)
	}
	ti := &typeInfo{
		id:       id,
		desc:     td,
		fixedRef: make([]bool, td.FixedWords),
		itemRef:  make([]bool, td.ItemWords),
	}
	ti.desc.RefWords = slices.Clone(td.RefWords)
	ti.desc.ItemRefWords = slices.Clone(td.ItemRefWords)
	ti.fixedStart = 1
	if td.Varsized {
		ti.fixedStart = 2
	}
	ti.itemStart = ti.fixedStart + td.FixedWords
	for _, w := range td.RefWords {
		if w < 0 || w >= td.FixedWords || ti.fixedRef[w] {
			return nil, fmt.Errorf("heap: register type %s: bad reference field %d: %w", td.Name, w, ErrBadLayout)
		}
		ti.fixedRef[w] = true
	}
	for _, w := range td.ItemRefWords {
		if w < 0 || w >= td.ItemWords || ti.itemRef[w] {
			return nil, fmt.Errorf("heap: register type %s: bad item reference word %d: %w", td.Name, w, ErrBadLayout)
		}
		ti.itemRef[w] = true
	}
	slices.Sort(ti.desc.RefWords)
	slices.Sort(ti.desc.ItemRefWords)
	return ti, nil
}

func (h *Heap) registerBuiltinTypes() {
	builtins := []TypeDesc{
		typeFiller1: {Name: "filler1"},
		typeFiller:  {Name: "filler", Varsized: true, ItemWords: 1},
		typeWeakref: {Name: "weakref", FixedWords: 1},
	}
	h.types = make([]*typeInfo, firstUserType)
	for id := typeFiller1; id < firstUserType; id++ {
		ti, err := newTypeInfo(id, builtins[id])
		if err != nil {
			panic(err)
		}
		h.types[id] = ti
	}
}

// RegisterType adds a layout to the descriptor table.
func (h *Heap) RegisterType(td TypeDesc) (TypeID, error) {
	h.lock()
	defer h.unlock()

	if _, ok := h.typesByName[td.Name]; ok {
		return 0, fmt.Errorf("heap: register type %s: name in use: %w", td.Name, ErrBadLayout)
	}
	id := TypeID(len(h.types))
	ti, err := newTypeInfo(id, td)
	if err != nil {
		return 0, err
	}
	h.types = append(h.types, ti)
	h.typesByName[td.Name] = id
	return id, nil
}

// MustRegisterType is like RegisterType but panics on error.
func (h *Heap) MustRegisterType(td TypeDesc) TypeID {
	id, err := h.RegisterType(td)
	if err != nil {
		panic(err)
	}
	return id
}

// LookupType finds a registered type by name.
func (h *Heap) LookupType(name string) (TypeID, bool) {
	h.lock()
	defer h.unlock()
	id, ok := h.typesByName[name]
	return id, ok
}

// TypeDesc returns the descriptor of a registered type.
func (h *Heap) TypeDesc(id TypeID) (TypeDesc, error) {
	h.lock()
	defer h.unlock()
	ti, err := h.typeInfo(id)
	if err != nil {
		return TypeDesc{}, err
	}
	return ti.desc, nil
}

// RegisterCustomTraceHook replaces the descriptor-driven tracing of a type.
// It fails once instances of the type exist.
func (h *Heap) RegisterCustomTraceHook(id TypeID, hook TraceHook) error {
	h.lock()
	defer h.unlock()
	ti, err := h.typeInfo(id)
	if err != nil {
		return err
	}
	if ti.instances > 0 {
		return fmt.Errorf("heap: register trace hook for %s: %w", ti.desc.Name, ErrInstancesExist)
	}
	ti.hook = hook
	return nil
}

// RegisterCustomLightFinalizer attaches a light finalizer to a type. It
// fails once instances of the type exist.
func (h *Heap) RegisterCustomLightFinalizer(id TypeID, fn LightFinalizer) error {
	h.lock()
	defer h.unlock()
	ti, err := h.typeInfo(id)
	if err != nil {
		return err
	}
	if ti.instances > 0 {
		return fmt.Errorf("heap: register light finalizer for %s: %w", ti.desc.Name, ErrInstancesExist)
	}
	ti.light = fn
	return nil
}

func (h *Heap) typeInfo(id TypeID) (*typeInfo, error) {
	if id < firstUserType || int(id) >= len(h.types) {
		return nil, fmt.Errorf("heap: type %d: %w", id, ErrUnknownType)
	}
	return h.types[id], nil
}

// ---------------------------------------------------------------------------
// Tracer and View
// ---------------------------------------------------------------------------

// Tracer is handed to custom trace hooks. It exposes the raw fields of one
// object and collects the fields that hold references.
type Tracer struct {
	h     *Heap
	obj   Addr
	ti    *typeInfo
	visit func(slot Addr)
}

// Fields returns the number of fixed fields.
func (t *Tracer) Fields() int { return t.ti.desc.FixedWords }

// Len returns the item count of a varsized object.
func (t *Tracer) Len() int { return t.h.length(t.obj, t.ti) }

// Field returns the raw value of fixed field i.
func (t *Tracer) Field(i int) uint64 { return t.h.mem.load(t.h.fieldAddr(t.obj, t.ti, i)) }

// VisitField reports fixed field i as a reference.
func (t *Tracer) VisitField(i int) { t.visit(t.h.fieldAddr(t.obj, t.ti, i)) }

// VisitItem reports word j of item i as a reference.
func (t *Tracer) VisitItem(i, j int) { t.visit(t.h.itemAddr(t.obj, t.ti, i, j)) }

// View is a read-only window on a dead object, given to light finalizers.
type View struct {
	mem *memory
	obj Addr
	ti  *typeInfo
	n   int
}

// TypeName returns the name of the object's type.
func (v View) TypeName() string { return v.ti.desc.Name }

// Len returns the item count of a varsized object.
func (v View) Len() int { return v.n }

// Field returns the raw value of fixed field i.
func (v View) Field(i int) uint64 {
	if i < 0 || i >= v.ti.desc.FixedWords {
		panic(fmt.Sprintf("heap: field %d out of range for %s", i, v.ti.desc.Name))
	}
	return v.mem.load(v.obj + Addr((v.ti.fixedStart+i)*WordSize))
}

// Item returns the raw value of word j of item i.
func (v View) Item(i, j int) uint64 {
	if i < 0 || i >= v.n || j < 0 || j >= v.ti.desc.ItemWords {
		panic(fmt.Sprintf("heap: item %d/%d out of range for %s", i, j, v.ti.desc.Name))
	}
	return v.mem.load(v.obj + Addr((v.ti.itemStart+i*v.ti.desc.ItemWords+j)*WordSize))
}
