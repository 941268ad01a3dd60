// ABOUTME: Core data types of the tracked heap
// ABOUTME: Defines handles, colours, type descriptors and object bodies

package heap

import (
	"fmt"

	"github.com/prateek/marksweep/fatal"
)

// Ref is a stable handle to a managed object. Objects are never relocated,
// so a Ref stays valid until the object is swept.
type Ref uint64

const (
	// Nil is the null reference.
	Nil Ref = 0

	// Initializing stands in for a singleton whose initializer is still
	// running. It is not backed by an object and must never be dereferenced.
	Initializing Ref = 1

	firstRef     Ref = 2
	permanentBit Ref = 1 << 63
)

// Valid reports whether r names an object, i.e. it is neither Nil nor Initializing.
func (r Ref) Valid() bool {
	return r != Nil && r != Initializing
}

// Permanent reports whether r names an untracked object.
func (r Ref) Permanent() bool {
	return r&permanentBit != 0
}

// Heap reports whether r names an object in the tracked heap.
func (r Ref) Heap() bool {
	return r.Valid() && !r.Permanent()
}

func (r Ref) String() string {
	switch {
	case r == Nil:
		return "nil"
	case r == Initializing:
		return "<initializing>"
	case r.Permanent():
		return fmt.Sprintf("perm#%d", uint64(r&^permanentBit))
	}
	return fmt.Sprintf("#%d", uint64(r))
}

// Color is the per-cycle liveness mark of a tracked object.
type Color uint8

const (
	White Color = iota // not proven reachable this cycle
	Black              // reached this cycle
)

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

// ObjectData is the collector-owned metadata of a tracked object.
type ObjectData struct {
	color Color
}

func (d *ObjectData) Color() Color {
	return d.color
}

func (d *ObjectData) SetColor(c Color) {
	d.color = c
}

// Word is one slot of an object body.
type Word uint64

const (
	// WordSize is the accounted size of one body word.
	WordSize = 8
	// HeaderSize is the accounted size of an object header.
	HeaderSize = 16
)

// Kind selects how the fields of an object are traced.
type Kind uint8

const (
	KindRecord      Kind = iota // fixed layout, references at RefOffsets
	KindRefArray                // every element is a reference
	KindScalarArray             // no references
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindRecord:
		return "record"
	case KindRefArray:
		return "array"
	case KindScalarArray:
		return "scalar_array"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// TypeInfo describes the layout shared by all instances of a type.
// It is immutable once constructed.
type TypeInfo struct {
	Name       string
	Kind       Kind
	Words      int    // body length of a record
	RefOffsets []int  // word offsets of reference fields of a record
	ElemSize   uint64 // accounted size of one element of an array
}

// RecordType returns a record layout with the given body length whose
// reference fields live at refOffsets.
func RecordType(name string, words int, refOffsets ...int) *TypeInfo {
	for _, off := range refOffsets {
		fatal.Assert(off >= 0 && off < words, "type %s: reference offset %d outside body of %d words", name, off, words)
	}
	return &TypeInfo{
		Name:       name,
		Kind:       KindRecord,
		Words:      words,
		RefOffsets: append([]int(nil), refOffsets...),
	}
}

// RefArrayType returns an array layout whose elements are references.
func RefArrayType(name string) *TypeInfo {
	return &TypeInfo{Name: name, Kind: KindRefArray, ElemSize: WordSize}
}

// ScalarArrayType returns an array layout without references.
func ScalarArrayType(name string, elemSize uint64) *TypeInfo {
	return &TypeInfo{Name: name, Kind: KindScalarArray, ElemSize: elemSize}
}

// WeakCounterType is the layout of weak reference counters. Its single
// word holds the referent, which is deliberately not a traced reference.
var WeakCounterType = RecordType("WeakReferenceCounter", 1)

// AllocSize returns the bytes accounted for an instance of ti with n
// elements. n is ignored for records.
func AllocSize(ti *TypeInfo, n int) uint64 {
	if ti.Kind == KindRecord {
		return HeaderSize + uint64(ti.Words)*WordSize
	}
	return HeaderSize + uint64(n)*ti.ElemSize
}

// Object is the body of a managed object.
type Object struct {
	Type  *TypeInfo
	Words []Word
}

// Ref reads word i as a reference.
func (o *Object) Ref(i int) Ref {
	return Ref(o.Words[i])
}

// SetRef stores r into word i.
func (o *Object) SetRef(i int, r Ref) {
	o.Words[i] = Word(r)
}

// Len returns the element count of an array, or the body length of a record.
func (o *Object) Len() int {
	return len(o.Words)
}

// Size returns the accounted size of the object in bytes.
func (o *Object) Size() uint64 {
	return AllocSize(o.Type, len(o.Words))
}
