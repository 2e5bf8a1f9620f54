package resolver

import (
	"context"
	"sync"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// fakeDOM is an in-memory DOM. Elements are keyed by scope label and
// selector (see key); frames are listed in document order.
type fakeDOM struct {
	mu sync.Mutex

	frames  []schemas.Frame
	visible map[string]bool
	texts   map[string]bool
	// reveals makes an element visible once another one is activated.
	reveals map[string]string
	// hang blocks the query until its context ends.
	hang map[string]bool
	// faults fail the query with a runtime error.
	faults map[string]error
	// panics panic inside the query.
	panics map[string]bool

	queries   []string
	activated []string
	framesErr error
}

func newFakeDOM() *fakeDOM {
	return &fakeDOM{
		visible: map[string]bool{},
		texts:   map[string]bool{},
		reveals: map[string]string{},
		hang:    map[string]bool{},
		faults:  map[string]error{},
		panics:  map[string]bool{},
	}
}

func key(frame *schemas.Frame, selector string) string {
	return frame.Describe() + "|" + selector
}

func (d *fakeDOM) Frames(ctx context.Context) ([]schemas.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.framesErr != nil {
		return nil, d.framesErr
	}
	return append([]schemas.Frame(nil), d.frames...), nil
}

func (d *fakeDOM) QueryVisible(ctx context.Context, frame *schemas.Frame, selector string) (schemas.ElementHandle, error) {
	k := key(frame, selector)
	d.mu.Lock()
	d.queries = append(d.queries, k)
	hang, fault, panics, ok := d.hang[k], d.faults[k], d.panics[k], d.visible[k]
	d.mu.Unlock()

	switch {
	case panics:
		panic("frame detached mid-query")
	case fault != nil:
		return schemas.ElementHandle{}, fault
	case hang:
		<-ctx.Done()
		return schemas.ElementHandle{}, ctx.Err()
	case ok:
		return schemas.ElementHandle{Selector: selector, Frame: frame}, nil
	}
	return schemas.ElementHandle{}, ErrNotFound
}

func (d *fakeDOM) FindByText(ctx context.Context, frame *schemas.Frame, label string) (schemas.ElementHandle, error) {
	k := key(frame, "text="+label)
	d.mu.Lock()
	d.queries = append(d.queries, k)
	ok := d.texts[label]
	d.mu.Unlock()
	if !ok {
		return schemas.ElementHandle{}, ErrNotFound
	}
	return schemas.ElementHandle{Selector: "text=" + label, Frame: frame}, nil
}

func (d *fakeDOM) Activate(ctx context.Context, h schemas.ElementHandle) error {
	k := key(h.Frame, h.Selector)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activated = append(d.activated, k)
	if revealed, ok := d.reveals[k]; ok {
		d.visible[revealed] = true
	}
	return nil
}

func (d *fakeDOM) queryLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.queries...)
}
