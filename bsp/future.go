package bsp

// Future is a write-once container for the result of a deferred remote
// read (spec.md section 3/4.3), the Go analogue of bulk::future<T>. It
// starts pending and becomes ready only inside the Sync that follows the
// Get that created it.
//
// Resolution happens synchronously inside World.Sync on the same goroutine
// that calls Sync, so Future needs no locking of its own -- this mirrors
// spec.md section 5's single-threaded-per-processor model.
type Future[T any] struct {
	ready bool
	value T
}

// Value returns the delivered value once the future is ready. Before that
// it fails immediately with NotReady rather than blocking.
func (f *Future[T]) Value() (T, error) {
	if !f.ready {
		var zero T
		return zero, NotReady{}
	}
	return f.value, nil
}

// Ready reports whether the future has been resolved.
func (f *Future[T]) Ready() bool { return f.ready }
