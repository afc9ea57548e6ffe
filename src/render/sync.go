package render

import (
	"go.uber.org/zap"
)

// Tracker holds the completion future of the last submitted frame and is
// the only place cross-frame ordering is decided.
//
// Two ways of retiring a future exist. RetireAsync never blocks and is
// called at the top of every iteration. retireAndWait blocks until the GPU
// is done and is accepted at four call sites: Advance (bounding the loop to
// one frame in flight), Reset (after a failed submit or present), and Drain
// (before swapchain recreation and at shutdown).
type Tracker struct {
	prev Future
	log  *zap.Logger
}

func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{prev: Ready(), log: logger}
}

// Previous returns the stored future. It is never nil.
func (t *Tracker) Previous() Future {
	return t.prev
}

// RetireAsync releases the previous frame's bookkeeping if the GPU has
// already finished with it. The slot then holds a ready future, so a later
// Advance, Drain or Reset does not release it again and the next join has
// nothing left to wait on.
func (t *Tracker) RetireAsync() bool {
	done, err := t.prev.Poll()
	if err != nil {
		t.log.Debug("poll previous frame", zap.Error(err))
		return false
	}
	if !done {
		return false
	}
	t.prev.Release()
	t.prev = Ready()
	return true
}

// Join returns the sole dependency gating the next submission: the
// previous frame's work and the freshly acquired image.
func (t *Tracker) Join(acquire Future) *JoinedFuture {
	return Join(t.prev, acquire)
}

// Advance stores next as the previous frame and blocks until the frame it
// replaces has completed.
func (t *Tracker) Advance(next Future) error {
	old := t.prev
	t.prev = next
	return retireAndWait(old)
}

// Reset drops failed (which may be nil) and the stored future, then stores
// an already satisfied one so the next iteration never stalls behind a
// failed frame.
func (t *Tracker) Reset(failed Future) error {
	old := t.prev
	t.prev = Ready()
	err := retireAndWait(failed)
	if werr := retireAndWait(old); err == nil {
		err = werr
	}
	return err
}

// Drain waits for everything outstanding.
func (t *Tracker) Drain() error {
	old := t.prev
	t.prev = Ready()
	return retireAndWait(old)
}

func retireAndWait(f Future) error {
	if f == nil {
		return nil
	}
	err := f.Wait()
	f.Release()
	return err
}
