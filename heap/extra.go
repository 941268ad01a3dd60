// ABOUTME: Side-table metadata attached to objects after allocation
// ABOUTME: Currently holds the location of an object's weak reference counter

package heap

// ExtraData is created lazily for objects that need more metadata than the
// header carries, e.g. when the first weak reference to them is taken.
type ExtraData struct {
	weakCounter Ref
}

// WeakCounterLocation returns the cell holding the weak counter of the object.
func (e *ExtraData) WeakCounterLocation() *Ref {
	return &e.weakCounter
}

// WeakCounter returns the weak counter of the object, or Nil.
func (e *ExtraData) WeakCounter() Ref {
	return e.weakCounter
}

// WeakReferent returns the object a weak counter refers to. The referent is
// cleared to Nil once it has been swept.
func (h *Heap) WeakReferent(counter Ref) Ref {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.object(counter)
	if c == nil || c.Type != WeakCounterType {
		return Nil
	}
	return Ref(c.Words[0])
}
