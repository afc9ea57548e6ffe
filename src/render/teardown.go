package render

import (
	"go.uber.org/zap"
)

type releaser struct {
	name string
	fn   func()
}

// teardown releases session resources in reverse order of acquisition,
// each exactly once.
type teardown struct {
	entries []releaser
	log     *zap.Logger
}

func (t *teardown) push(name string, fn func()) {
	t.entries = append(t.entries, releaser{name: name, fn: fn})
}

func (t *teardown) unwind() {
	for len(t.entries) > 0 {
		last := len(t.entries) - 1
		r := t.entries[last]
		t.entries = t.entries[:last]
		if t.log != nil {
			t.log.Debug("release", zap.String("resource", r.name))
		}
		r.fn()
	}
}
