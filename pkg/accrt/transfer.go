package accrt

import "unsafe"

// Upload copies [offset, offset+size) of host to its device counterpart.
// A negative tag blocks until the copy is done; otherwise the copy is
// queued on the tag's stream and host must stay untouched until a Wait on
// that tag returns.
func (r *Runtime) Upload(host unsafe.Pointer, size, offset int64, tag int) error {
	if err := r.checkReady("upload"); err != nil {
		return err
	}
	return r.fail(r.eng.Upload(host, size, offset, tag))
}

// Download copies [offset, offset+size) of host's device counterpart back
// into host, with the same tag semantics as Upload.
func (r *Runtime) Download(host unsafe.Pointer, size, offset int64, tag int) error {
	if err := r.checkReady("download"); err != nil {
		return err
	}
	return r.fail(r.eng.Download(host, size, offset, tag))
}

// Wait blocks until everything queued on tag's stream has completed.
func (r *Runtime) Wait(tag int) error {
	return r.fail(r.pool.Wait(tag))
}

// WaitAll is a barrier across every stream.
func (r *Runtime) WaitAll() error {
	return r.fail(r.pool.WaitAll())
}

// WaitSomeOrAll waits on every stream for tag 0 and on tag's stream
// otherwise.
func (r *Runtime) WaitSomeOrAll(tag int) error {
	return r.fail(r.pool.WaitSomeOrAll(tag))
}

// Test reports whether tag's stream has no pending work.
func (r *Runtime) Test(tag int) (bool, error) {
	idle, err := r.pool.Test(tag)
	return idle, r.fail(err)
}

// TestAll reports whether every stream is idle.
func (r *Runtime) TestAll() (bool, error) {
	idle, err := r.pool.TestAll()
	return idle, r.fail(err)
}
