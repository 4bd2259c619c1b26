// Package heap implements the memory manager of a managed runtime: an
// allocator and a family of garbage collectors sharing one contract.
//
// Objects live in a simulated word-addressed address space. Every object
// starts with a header word (type id, flags, age); varsized objects keep
// their length in the second word. Mutators never hold raw addresses.
// They hold Refs, which are slots in the heap's root table, and the
// collector rewrites those slots whenever it moves an object.
//
// Four collector variants are available, chosen once through
// Config.Variant:
//
//	SemiSpace     two halves, every collection copies all live objects
//	Generational  nursery plus a semispace old generation
//	Hybrid        generational plus a non-moving third generation
//	IncMiniMark   nursery plus an incrementally mark-swept old space
//
// All variants expose Collect and CollectStep. A step advances the
// collector by exactly one state transition and reports the
// (old, new) state pair.
//
// A Heap is safe for use by multiple goroutines; every exported operation
// takes the heap lock. Finalizer queue triggers run after the lock is
// released.
package heap
