package bsp

import (
	"reflect"
	"unsafe"
)

// Var is a registered variable (spec.md section 3/4.2): a typed, owned
// handle to one local cell of a distributed variable, addressable
// remotely through Image. It is the Go analogue of bulk::var<T> in
// original_source/include/bulk/variable.hpp.
//
// T must be a fixed-size value type with no pointers, slices, maps, or
// interfaces reachable from it -- Var copies T by raw byte layout
// (unsafe.Sizeof/unsafe.Pointer), the same trick hivemind.go's
// ReadFloat/WriteFloat use to move a float64 through []byte. A T containing
// a pointer-shaped field would copy that pointer's bits across processors,
// which is meaningless once netpeer is in play.
//
// A Var is not copyable; there is no Go equivalent of the C++ move
// constructor transferring ownership, so construct a fresh Var instead of
// trying to relocate one, and call Close when done instead of relying on a
// destructor.
type Var[T any] struct {
	w    *World
	id   int
	cell *T
}

// NewVar registers a new variable of type T on w. Construction is
// collective: every processor must call NewVar (or NewVarWith) in the same
// program order, so that the assigned id lines up across processors.
//
// T is checked against the fixed-size, pointer-free constraint described
// above; a T that fails it returns UnsupportedType rather than silently
// copying garbage across processors.
func NewVar[T any](w *World) (*Var[T], error) {
	if err := checkFixedSize(reflect.TypeOf((*T)(nil)).Elem()); err != nil {
		return nil, err
	}
	cell := new(T)
	id, err := w.registerLocation(&scalarLocation[T]{cell: cell})
	if err != nil {
		return nil, err
	}
	return &Var[T]{w: w, id: id, cell: cell}, nil
}

// checkFixedSize rejects any type with a pointer, slice, map, interface,
// channel, func, unsafe pointer, or string reachable from it -- anything
// whose byte layout is not the value itself.
func checkFixedSize(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface,
		reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.String:
		return UnsupportedType(t.String())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if err := checkFixedSize(t.Field(i).Type); err != nil {
				return err
			}
		}
	case reflect.Array:
		return checkFixedSize(t.Elem())
	}
	return nil
}

// NewVarWith registers a new variable and sets its local image to initial.
func NewVarWith[T any](w *World, initial T) (*Var[T], error) {
	v, err := NewVar[T](w)
	if err != nil {
		return nil, err
	}
	*v.cell = initial
	return v, nil
}

// Value returns a pointer to the local image. Reading or writing through it
// never communicates.
func (v *Var[T]) Value() *T { return v.cell }

// Image returns a selector for the remote image on processor t.
func (v *Var[T]) Image(t int) (Image[T], error) {
	if err := v.w.checkProcessor(t); err != nil {
		return Image[T]{}, err
	}
	return Image[T]{v: v, t: t}, nil
}

// Broadcast schedules a put of x to every processor, including self.
func (v *Var[T]) Broadcast(x T) error {
	for t := 0; t < v.w.ActiveProcessors(); t++ {
		img, err := v.Image(t)
		if err != nil {
			return err
		}
		if err := img.Put(x); err != nil {
			return err
		}
	}
	return nil
}

// Close deregisters the variable. Deregistration is collective and embeds
// a barrier, so any put or get scheduled against this variable before
// Close has already been drained by the time it returns.
func (v *Var[T]) Close() error {
	return v.w.unregisterLocation(v.id)
}

// Image identifies the remote image of a Var on one processor.
type Image[T any] struct {
	v *Var[T]
	t int
}

// Put schedules a remote write of value to this image. It takes effect on
// the next Sync.
func (img Image[T]) Put(value T) error {
	data := valueBytes(&value)
	return img.v.w.put(img.t, img.v.id, data)
}

// Get schedules a remote read of this image and returns a Future that
// becomes ready on the next Sync.
func (img Image[T]) Get() (*Future[T], error) {
	fut := &Future[T]{}
	elemSize := uint64(unsafe.Sizeof(*img.v.cell))
	err := img.v.w.scheduleGet(img.t, img.v.id, elemSize, func(data []byte) {
		fut.value = bytesToValue[T](data)
		fut.ready = true
	})
	if err != nil {
		return nil, err
	}
	return fut, nil
}

// scalarLocation adapts a *T to the untyped locationHandler World uses to
// dispatch incoming puts/gets without knowing T.
type scalarLocation[T any] struct {
	cell *T
}

func (s *scalarLocation[T]) size() int { return int(unsafe.Sizeof(*s.cell)) }

func (s *scalarLocation[T]) applyPut(byteOffset uint64, data []byte) {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(s.cell)), s.size())
	copy(dst[byteOffset:], data)
}

func (s *scalarLocation[T]) readBytes(byteOffset uint64, n int) []byte {
	src := unsafe.Slice((*byte)(unsafe.Pointer(s.cell)), s.size())
	out := make([]byte, n)
	copy(out, src[byteOffset:byteOffset+uint64(n)])
	return out
}

func valueBytes[T any](v *T) []byte {
	n := int(unsafe.Sizeof(*v))
	src := unsafe.Slice((*byte)(unsafe.Pointer(v)), n)
	out := make([]byte, n)
	copy(out, src)
	return out
}

func bytesToValue[T any](data []byte) T {
	var v T
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&v)), int(unsafe.Sizeof(v)))
	copy(dst, data)
	return v
}
