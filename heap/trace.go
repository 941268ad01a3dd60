// ABOUTME: Layout-driven enumeration of outgoing references
// ABOUTME: One Traceable per layout kind, selected through a dispatch table

package heap

// Traceable enumerates the outgoing references of one layout kind.
// Nil and Initializing entries are passed to visit like any other value.
type Traceable interface {
	Trace(o *Object, visit func(Ref))
}

type recordLayout struct{}

func (recordLayout) Trace(o *Object, visit func(Ref)) {
	for _, off := range o.Type.RefOffsets {
		visit(Ref(o.Words[off]))
	}
}

type refArrayLayout struct{}

func (refArrayLayout) Trace(o *Object, visit func(Ref)) {
	for i := range o.Words {
		visit(Ref(o.Words[i]))
	}
}

type scalarArrayLayout struct{}

func (scalarArrayLayout) Trace(*Object, func(Ref)) {}

var layouts = [numKinds]Traceable{
	KindRecord:      recordLayout{},
	KindRefArray:    refArrayLayout{},
	KindScalarArray: scalarArrayLayout{},
}

// LayoutOf returns the tracer for k.
func LayoutOf(k Kind) Traceable {
	return layouts[k]
}

// TraceFields calls visit for every reference field of o.
func TraceFields(o *Object, visit func(Ref)) {
	layouts[o.Type.Kind].Trace(o, visit)
}
