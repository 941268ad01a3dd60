// ABOUTME: Format-independent description of a heap and its roots
// ABOUTME: Dumps are validated and materialised into a marksweep.Memory

package heapdump

import (
	"errors"
	"fmt"

	"github.com/prateek/marksweep"
	"github.com/prateek/marksweep/heap"
	"github.com/prateek/marksweep/thread"
)

var (
	// ErrInvalidDump is returned when a dump is inconsistent
	ErrInvalidDump = errors.New("invalid heap dump")
)

// Object ids with a special meaning inside reference words.
const (
	NilID          int64 = 0
	InitializingID int64 = -1
)

// Type kinds of a dump.
const (
	KindRecord      = "record"
	KindRefArray    = "array"
	KindScalarArray = "scalars"
)

// Dump describes a heap: its types, its objects and the roots held by
// threads and globals. Objects refer to each other by id.
type Dump struct {
	Types   []TypeDecl   `json:"types"`
	Objects []ObjectDecl `json:"objects"`
	Threads []ThreadDecl `json:"threads"`
	Globals []GlobalDecl `json:"globals"`
}

type TypeDecl struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Words    int    `json:"words,omitempty"`
	Refs     []int  `json:"refs,omitempty"`
	ElemSize uint64 `json:"elem_size,omitempty"`
}

// ObjectDecl is one object. Words at reference positions hold object ids;
// other words are stored as they are. Arrays get max(Len, len(Words))
// elements.
type ObjectDecl struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	Len         int     `json:"len,omitempty"`
	Permanent   bool    `json:"permanent,omitempty"`
	Words       []int64 `json:"words,omitempty"`
	WeakCounter int64   `json:"weak_counter,omitempty"`
}

type ThreadDecl struct {
	State  string           `json:"state,omitempty"`
	Frames [][]int64        `json:"frames,omitempty"`
	Locals map[string]int64 `json:"locals,omitempty"`
}

type GlobalDecl struct {
	Name string `json:"name"`
	Ref  int64  `json:"ref"`
}

// Loaded is the result of Build.
type Loaded struct {
	Threads []*marksweep.ThreadData
	refs    map[int64]heap.Ref
}

// Ref returns the handle the object with the given id was loaded at.
func (l *Loaded) Ref(id int64) heap.Ref {
	switch id {
	case NilID:
		return heap.Nil
	case InitializingID:
		return heap.Initializing
	}
	return l.refs[id]
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDump, fmt.Sprintf(format, args...))
}

func parseState(s string) (thread.State, error) {
	switch s {
	case "", "runnable":
		return thread.Runnable, nil
	case "native":
		return thread.Native, nil
	}
	return 0, invalid("unknown thread state %q", s)
}

type checkedType struct {
	ti   *heap.TypeInfo
	refs map[int]bool
}

// isRef reports whether word i of an object of this type holds a reference.
func (c checkedType) isRef(i int) bool {
	switch c.ti.Kind {
	case heap.KindRecord:
		return c.refs[i]
	case heap.KindRefArray:
		return true
	}
	return false
}

func (c checkedType) length(obj ObjectDecl) int {
	if c.ti.Kind == heap.KindRecord {
		return 0
	}
	return max(obj.Len, len(obj.Words))
}

func (d *Dump) types() (map[string]checkedType, error) {
	// The referent word of a weak counter is not traced but still names
	// an object, so it is translated like a reference.
	types := map[string]checkedType{
		heap.WeakCounterType.Name: {ti: heap.WeakCounterType, refs: map[int]bool{0: true}},
	}
	for _, decl := range d.Types {
		if _, dup := types[decl.Name]; dup || decl.Name == "" {
			return nil, invalid("duplicate or empty type name %q", decl.Name)
		}
		var c checkedType
		switch decl.Kind {
		case KindRecord:
			c.refs = make(map[int]bool)
			for _, off := range decl.Refs {
				if off < 0 || off >= decl.Words {
					return nil, invalid("type %s: reference offset %d outside %d words", decl.Name, off, decl.Words)
				}
				c.refs[off] = true
			}
			c.ti = heap.RecordType(decl.Name, decl.Words, decl.Refs...)
		case KindRefArray:
			c.ti = heap.RefArrayType(decl.Name)
		case KindScalarArray:
			if decl.ElemSize == 0 {
				return nil, invalid("type %s: scalar arrays need elem_size", decl.Name)
			}
			c.ti = heap.ScalarArrayType(decl.Name, decl.ElemSize)
		default:
			return nil, invalid("type %s: unknown kind %q", decl.Name, decl.Kind)
		}
		types[decl.Name] = c
	}
	return types, nil
}

// validate checks the dump without touching any Memory, so the only way
// Build can fail after registering anything is exhausted capacity.
func (d *Dump) validate() (map[string]checkedType, error) {
	types, err := d.types()
	if err != nil {
		return nil, err
	}

	objects := make(map[int64]ObjectDecl, len(d.Objects))
	for _, obj := range d.Objects {
		if obj.ID <= 0 {
			return nil, invalid("object id %d must be positive", obj.ID)
		}
		if _, dup := objects[obj.ID]; dup {
			return nil, invalid("duplicate object id %d", obj.ID)
		}
		c, ok := types[obj.Type]
		if !ok {
			return nil, invalid("object %d: unknown type %q", obj.ID, obj.Type)
		}
		if c.ti.Kind == heap.KindRecord && len(obj.Words) > c.ti.Words {
			return nil, invalid("object %d: %d words for a %d word record", obj.ID, len(obj.Words), c.ti.Words)
		}
		objects[obj.ID] = obj
	}

	known := func(id int64) bool {
		_, ok := objects[id]
		return ok || id == NilID || id == InitializingID
	}
	for _, obj := range d.Objects {
		c := types[obj.Type]
		for i, w := range obj.Words {
			if c.isRef(i) && !known(w) {
				return nil, invalid("object %d word %d: unknown object id %d", obj.ID, i, w)
			}
		}
		if obj.WeakCounter == NilID {
			continue
		}
		counter, ok := objects[obj.WeakCounter]
		if !ok || counter.Type != heap.WeakCounterType.Name {
			return nil, invalid("object %d: weak counter %d is not a %s", obj.ID, obj.WeakCounter, heap.WeakCounterType.Name)
		}
		// A counter refers back to the one object it counts for.
		if len(counter.Words) == 0 || counter.Words[0] != obj.ID {
			return nil, invalid("object %d: weak counter %d does not refer back to it", obj.ID, obj.WeakCounter)
		}
	}

	for i, th := range d.Threads {
		if _, err := parseState(th.State); err != nil {
			return nil, fmt.Errorf("thread %d: %w", i, err)
		}
		for _, frame := range th.Frames {
			for _, id := range frame {
				if !known(id) {
					return nil, invalid("thread %d: unknown object id %d", i, id)
				}
			}
		}
		for name, id := range th.Locals {
			if !known(id) {
				return nil, invalid("thread %d local %s: unknown object id %d", i, name, id)
			}
		}
	}
	for _, g := range d.Globals {
		if !known(g.Ref) {
			return nil, invalid("global %s: unknown object id %d", g.Name, g.Ref)
		}
	}
	return types, nil
}

// Build materialises the dump into mem. Threads of the dump are registered
// in order, before anything is allocated, and are returned in the same
// order. Tracked objects are allocated and published without passing a
// safepoint, so loading never collects.
//
// If the heap runs out of capacity, the dump's threads are unregistered
// again and no permanent object has been created. The tracked objects
// allocated up to that point stay behind unreachable and are reclaimed by
// the next collection.
func (d *Dump) Build(mem *marksweep.Memory) (*Loaded, error) {
	types, err := d.validate()
	if err != nil {
		return nil, err
	}

	loaded := &Loaded{refs: make(map[int64]heap.Ref, len(d.Objects))}
	for range d.Threads {
		loaded.Threads = append(loaded.Threads, mem.RegisterThread())
	}

	if err := d.allocate(mem, types, loaded); err != nil {
		for _, td := range loaded.Threads {
			mem.UnregisterThread(td)
		}
		return nil, err
	}

	h := mem.Heap()
	for _, decl := range d.Objects {
		c := types[decl.Type]
		r := loaded.refs[decl.ID]
		obj := h.Object(r)
		for i, w := range decl.Words {
			if c.isRef(i) {
				obj.SetRef(i, loaded.Ref(w))
			} else {
				obj.Words[i] = heap.Word(w)
			}
		}
		if decl.WeakCounter != NilID {
			*h.InstallExtraData(r).WeakCounterLocation() = loaded.refs[decl.WeakCounter]
		}
	}

	for i, th := range d.Threads {
		td := loaded.Threads[i].Thread
		for _, slots := range th.Frames {
			frame := td.EnterFrame(len(slots))
			for j, id := range slots {
				frame.Set(j, loaded.Ref(id))
			}
		}
		for name, id := range th.Locals {
			td.SetLocal(name, loaded.Ref(id))
		}
		if state, _ := parseState(th.State); state != td.State() {
			thread.Switch(td, state)
		}
	}

	for _, g := range d.Globals {
		mem.Globals().Register(g.Name).Store(loaded.Ref(g.Ref))
	}
	return loaded, nil
}

// allocate creates every tracked object through a temporary loader thread
// whose unregistration publishes them. Permanent objects cannot be freed,
// so they are created only once every tracked allocation has succeeded.
func (d *Dump) allocate(mem *marksweep.Memory, types map[string]checkedType, loaded *Loaded) error {
	loader := mem.RegisterThread()
	defer mem.UnregisterThread(loader)

	for _, decl := range d.Objects {
		if decl.Permanent {
			continue
		}
		c := types[decl.Type]
		r, err := loader.Thread.Producer().Alloc(c.ti, c.length(decl))
		if err != nil {
			return fmt.Errorf("load object %d: %w", decl.ID, err)
		}
		loaded.refs[decl.ID] = r
	}
	for _, decl := range d.Objects {
		if decl.Permanent {
			c := types[decl.Type]
			loaded.refs[decl.ID] = mem.Heap().NewPermanent(c.ti, c.length(decl))
		}
	}
	return nil
}
