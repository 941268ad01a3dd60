package heap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pair = RecordType("Pair", 3, 0, 2)

func TestRefKinds(t *testing.T) {
	assert.False(t, Nil.Valid())
	assert.False(t, Initializing.Valid())
	assert.False(t, Initializing.Heap())
	assert.True(t, Ref(7).Heap())
	assert.False(t, (permanentBit | 3).Heap())
	assert.True(t, (permanentBit | 3).Permanent())
	assert.Equal(t, "nil", Nil.String())
	assert.Equal(t, "<initializing>", Initializing.String())
	assert.Equal(t, "#7", Ref(7).String())
	assert.Equal(t, "perm#3", (permanentBit | 3).String())
}

func TestAllocSize(t *testing.T) {
	assert.Equal(t, uint64(HeaderSize+3*WordSize), AllocSize(pair, 99))
	assert.Equal(t, uint64(HeaderSize+4*WordSize), AllocSize(RefArrayType("Array"), 4))
	assert.Equal(t, uint64(HeaderSize+10), AllocSize(ScalarArrayType("ByteArray", 1), 10))
}

func TestRecordTypeRejectsBadOffset(t *testing.T) {
	assert.Panics(t, func() {
		RecordType("Broken", 2, 2)
	})
}

func TestPendingUntilPublished(t *testing.T) {
	h := New(Options{})
	p := h.NewProducer()

	r, err := p.Alloc(pair, 0)
	require.NoError(t, err)
	assert.True(t, h.Contains(r))
	assert.False(t, h.Resident(r))
	assert.Equal(t, 1, p.Pending())
	assert.Equal(t, 1, h.Stats().Pending)

	it := h.Iter()
	assert.False(t, it.Valid())
	it.Close()

	p.Publish()
	assert.True(t, h.Resident(r))
	assert.Equal(t, 0, p.Pending())
	stats := h.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, stats.Resident)
	assert.Equal(t, AllocSize(pair, 0), stats.UsedBytes)
}

func TestPublishResetsColor(t *testing.T) {
	h := New(Options{})
	p := h.NewProducer()
	r, err := p.Alloc(pair, 0)
	require.NoError(t, err)

	h.ObjectData(r).SetColor(Black)
	p.Publish()
	assert.Equal(t, White, h.ObjectData(r).Color())
}

func TestCapacity(t *testing.T) {
	size := AllocSize(pair, 0)
	h := New(Options{CapacityBytes: 2 * size})
	p := h.NewProducer()

	_, err := p.Alloc(pair, 0)
	require.NoError(t, err)
	_, err = p.Alloc(pair, 0)
	require.NoError(t, err)
	_, err = p.Alloc(pair, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.Equal(t, 2, p.Pending())
}

func TestPermanentObjects(t *testing.T) {
	h := New(Options{CapacityBytes: 1})
	r := h.NewPermanent(pair, 0)
	assert.True(t, r.Permanent())
	require.NotNil(t, h.Object(r))
	assert.Nil(t, h.ObjectData(r))
	assert.Equal(t, uint64(0), h.Stats().UsedBytes)

	it := h.Iter()
	defer it.Close()
	assert.False(t, it.Valid())
}

func TestObjectLookupMisses(t *testing.T) {
	h := New(Options{})
	assert.Nil(t, h.Object(Nil))
	assert.Nil(t, h.Object(Initializing))
	assert.Nil(t, h.Object(Ref(42)))
	assert.Nil(t, h.Object(permanentBit|5))
	assert.Nil(t, h.ObjectData(Ref(42)))
}

func TestIteratorEraseAndAdvance(t *testing.T) {
	h := New(Options{})
	p := h.NewProducer()
	var refs []Ref
	for i := 0; i < 6; i++ {
		r, err := p.Alloc(pair, 0)
		require.NoError(t, err)
		refs = append(refs, r)
	}
	p.Publish()

	var seen []Ref
	it := h.Iter()
	for it.Valid() {
		seen = append(seen, it.Ref())
		if it.Ref()%2 == 0 {
			it.EraseAndAdvance()
			continue
		}
		it.Advance()
	}
	it.Close()
	it.Close()

	assert.Equal(t, refs, seen)
	for _, r := range refs {
		assert.Equal(t, r%2 != 0, h.Contains(r), "ref %s", r)
	}
	assert.Equal(t, 3, h.Stats().Resident)
	assert.Equal(t, 3*AllocSize(pair, 0), h.Stats().UsedBytes)
}

func TestFreedHandlesAreReused(t *testing.T) {
	h := New(Options{})
	p := h.NewProducer()
	r, err := p.Alloc(pair, 0)
	require.NoError(t, err)
	p.Publish()

	it := h.Iter()
	it.EraseAndAdvance()
	it.Close()

	again, err := p.Alloc(pair, 0)
	require.NoError(t, err)
	assert.Equal(t, r, again)
	assert.Equal(t, Word(0), h.Object(again).Words[0])
}

func TestEraseClearsWeakCounter(t *testing.T) {
	h := New(Options{})
	p := h.NewProducer()
	target, err := p.Alloc(pair, 0)
	require.NoError(t, err)
	counter, err := p.Alloc(WeakCounterType, 0)
	require.NoError(t, err)
	h.Object(counter).SetRef(0, target)
	*h.InstallExtraData(target).WeakCounterLocation() = counter
	p.Publish()

	it := h.Iter()
	for it.Valid() {
		if it.Ref() == target {
			it.EraseAndAdvance()
			continue
		}
		it.Advance()
	}
	it.Close()

	assert.Nil(t, h.ExtraData(target))
	assert.Equal(t, Nil, h.Object(counter).Ref(0))
}

func TestEraseCounterUnlinksOwner(t *testing.T) {
	h := New(Options{})
	p := h.NewProducer()
	owner := h.NewPermanent(pair, 0)
	counter, err := p.Alloc(WeakCounterType, 0)
	require.NoError(t, err)
	h.Object(counter).SetRef(0, owner)
	*h.InstallExtraData(owner).WeakCounterLocation() = counter
	p.Publish()

	it := h.Iter()
	it.EraseAndAdvance()
	it.Close()

	require.NotNil(t, h.ExtraData(owner))
	assert.Equal(t, Nil, h.ExtraData(owner).WeakCounter())
}

func TestInstallExtraDataIsIdempotent(t *testing.T) {
	h := New(Options{})
	r := h.NewPermanent(pair, 0)
	e := h.InstallExtraData(r)
	assert.Same(t, e, h.InstallExtraData(r))
	assert.Same(t, e, h.ExtraData(r))
	assert.Equal(t, Nil, e.WeakCounter())

	assert.Panics(t, func() {
		h.InstallExtraData(Ref(99))
	})
}

func TestForEach(t *testing.T) {
	h := New(Options{})
	p := h.NewProducer()
	a, err := p.Alloc(pair, 0)
	require.NoError(t, err)
	_, err = p.Alloc(pair, 0)
	require.NoError(t, err)
	h.publish([]Ref{a})
	perm := h.NewPermanent(pair, 0)

	var seen []Ref
	h.ForEach(func(r Ref, _ *Object) {
		seen = append(seen, r)
	})
	assert.Equal(t, []Ref{a, perm}, seen)
}

func TestLookup(t *testing.T) {
	h := New(Options{})
	p := h.NewProducer()
	r, err := p.Alloc(pair, 0)
	require.NoError(t, err)
	obj, data := h.Lookup(r)
	assert.NotNil(t, obj)
	assert.NotNil(t, data)

	perm := h.NewPermanent(pair, 0)
	obj, data = h.Lookup(perm)
	assert.NotNil(t, obj)
	assert.Nil(t, data)

	obj, data = h.Lookup(Ref(77))
	assert.Nil(t, obj)
	assert.Nil(t, data)
}

func TestWeakReferent(t *testing.T) {
	h := New(Options{})
	p := h.NewProducer()
	c, err := p.Alloc(WeakCounterType, 0)
	require.NoError(t, err)
	h.Object(c).SetRef(0, 9)
	assert.Equal(t, Ref(9), h.WeakReferent(c))

	other, err := p.Alloc(pair, 0)
	require.NoError(t, err)
	assert.Equal(t, Nil, h.WeakReferent(other))
	assert.Equal(t, Nil, h.WeakReferent(Ref(500)))
}
