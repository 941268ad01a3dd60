// ABOUTME: Snapshots a live Memory into a Dump
// ABOUTME: The inverse of Build, used to save simulator heaps for later analysis

package heapdump

import (
	"github.com/prateek/marksweep"
	"github.com/prateek/marksweep/heap"
	"github.com/prateek/marksweep/thread"
)

// Capture describes the published objects, threads and globals of mem.
// Objects are numbered from 1 in heap order. Like a collection it must
// only run while no mutator touches the heap, and it publishes every
// registered thread first.
func Capture(mem *marksweep.Memory) *Dump {
	h := mem.Heap()
	for d := range mem.Threads().Iter() {
		d.Publish()
	}

	var refs []heap.Ref
	var objs []*heap.Object
	h.ForEach(func(r heap.Ref, obj *heap.Object) {
		refs = append(refs, r)
		objs = append(objs, obj)
	})
	ids := make(map[heap.Ref]int64, len(refs))
	for i, r := range refs {
		ids[r] = int64(i + 1)
	}
	id := func(r heap.Ref) int64 {
		if r == heap.Initializing {
			return InitializingID
		}
		return ids[r]
	}

	dump := &Dump{}
	declared := map[string]bool{heap.WeakCounterType.Name: true}
	for i, r := range refs {
		obj := objs[i]
		ti := obj.Type
		if !declared[ti.Name] {
			declared[ti.Name] = true
			dump.Types = append(dump.Types, typeDecl(ti))
		}

		decl := ObjectDecl{ID: ids[r], Type: ti.Name, Permanent: r.Permanent()}
		if ti.Kind != heap.KindRecord {
			decl.Len = obj.Len()
		}
		refWord := func(int) bool { return ti.Kind == heap.KindRefArray }
		if ti.Kind == heap.KindRecord {
			offsets := make(map[int]bool, len(ti.RefOffsets))
			for _, off := range ti.RefOffsets {
				offsets[off] = true
			}
			if ti == heap.WeakCounterType {
				offsets[0] = true
			}
			refWord = func(w int) bool { return offsets[w] }
		}
		for w, word := range obj.Words {
			if refWord(w) {
				decl.Words = append(decl.Words, id(heap.Ref(word)))
			} else {
				decl.Words = append(decl.Words, int64(word))
			}
		}
		if extra := h.ExtraData(r); extra != nil {
			decl.WeakCounter = ids[extra.WeakCounter()]
		}
		dump.Objects = append(dump.Objects, decl)
	}

	for d := range mem.Threads().Iter() {
		th := ThreadDecl{State: "runnable"}
		if d.State() == thread.Native {
			th.State = "native"
		}
		for f := range d.Frames() {
			slots := make([]int64, 0, f.Len())
			for _, r := range f.Slots() {
				slots = append(slots, id(r))
			}
			th.Frames = append(th.Frames, slots)
		}
		for name, r := range d.Locals() {
			if th.Locals == nil {
				th.Locals = make(map[string]int64)
			}
			th.Locals[name] = id(r)
		}
		dump.Threads = append(dump.Threads, th)
	}

	for g := range mem.Globals().Iter() {
		dump.Globals = append(dump.Globals, GlobalDecl{Name: g.Name(), Ref: id(g.Load())})
	}
	return dump
}

func typeDecl(ti *heap.TypeInfo) TypeDecl {
	switch ti.Kind {
	case heap.KindRecord:
		return TypeDecl{Name: ti.Name, Kind: KindRecord, Words: ti.Words, Refs: ti.RefOffsets}
	case heap.KindRefArray:
		return TypeDecl{Name: ti.Name, Kind: KindRefArray}
	}
	return TypeDecl{Name: ti.Name, Kind: KindScalarArray, ElemSize: ti.ElemSize}
}
