package render

// Future represents GPU work that completes asynchronously.
type Future interface {
	// Poll reports completion without blocking.
	Poll() (bool, error)
	// Wait blocks until the work has completed.
	Wait() error
	// Release frees the driver objects backing the future. Releasing work
	// that is still executing is undefined; callers Wait first.
	Release()
}

// Composite is implemented by futures made of other futures. Drivers use
// Flatten to find the primitives they can wait on.
type Composite interface {
	Parts() []Future
}

type readyFuture struct{}

func (readyFuture) Poll() (bool, error) { return true, nil }
func (readyFuture) Wait() error         { return nil }
func (readyFuture) Release()            {}
func (readyFuture) Parts() []Future     { return nil }

// Ready returns a future that is already satisfied.
func Ready() Future { return readyFuture{} }

// JoinedFuture completes once all of its parts have. It does not own its
// parts: releasing it is a no-op.
type JoinedFuture struct {
	parts []Future
}

func Join(futures ...Future) *JoinedFuture {
	j := &JoinedFuture{}
	for _, f := range futures {
		if f == nil {
			continue
		}
		j.parts = append(j.parts, f)
	}
	return j
}

func (j *JoinedFuture) Parts() []Future { return j.parts }

func (j *JoinedFuture) Poll() (bool, error) {
	for _, f := range j.parts {
		done, err := f.Poll()
		if err != nil || !done {
			return false, err
		}
	}
	return true, nil
}

func (j *JoinedFuture) Wait() error {
	for _, f := range j.parts {
		if err := f.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (j *JoinedFuture) Release() {}

// Flatten expands composites depth first and drops anything already
// satisfied by construction.
func Flatten(f Future) []Future {
	var out []Future
	var walk func(Future)
	walk = func(f Future) {
		switch v := f.(type) {
		case nil, readyFuture:
		case Composite:
			for _, p := range v.Parts() {
				walk(p)
			}
		default:
			out = append(out, f)
		}
	}
	walk(f)
	return out
}

// InFlightFrame is one frame's submitted work. It owns the submission's
// completion future and the acquisition future the submission consumed.
type InFlightFrame struct {
	Sequence   uint64
	Image      uint32
	Generation uint64

	completion Future
	acquire    Future
	released   bool
}

func NewInFlightFrame(seq uint64, image uint32, generation uint64, completion, acquire Future) *InFlightFrame {
	return &InFlightFrame{
		Sequence:   seq,
		Image:      image,
		Generation: generation,
		completion: completion,
		acquire:    acquire,
	}
}

// Parts exposes only the completion: the acquisition has already been
// waited on by the submission.
func (f *InFlightFrame) Parts() []Future {
	if f.released || f.completion == nil {
		return nil
	}
	return []Future{f.completion}
}

func (f *InFlightFrame) Poll() (bool, error) {
	if f.released || f.completion == nil {
		return true, nil
	}
	return f.completion.Poll()
}

func (f *InFlightFrame) Wait() error {
	if f.released || f.completion == nil {
		return nil
	}
	return f.completion.Wait()
}

func (f *InFlightFrame) Release() {
	if f.released {
		return
	}
	f.released = true
	if f.completion != nil {
		f.completion.Release()
	}
	if f.acquire != nil {
		f.acquire.Release()
	}
}

func (f *InFlightFrame) Released() bool { return f.released }
