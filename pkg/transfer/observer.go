package transfer

// Field names an observable property of a Transfer.
type Field uint8

const (
	FieldState Field = iota
	FieldProgress
	FieldDeviceName
	FieldError
)

func (f Field) String() string {
	switch f {
	case FieldState:
		return "state"
	case FieldProgress:
		return "progress"
	case FieldDeviceName:
		return "deviceName"
	case FieldError:
		return "error"
	default:
		return "unknown"
	}
}

// Change reports the new value of one field. Value holds a State for
// FieldState, an int for FieldProgress and a string otherwise.
type Change struct {
	Field Field
	Value any
}

type observer struct {
	id int
	fn func(Change)
}

// Subscribe registers fn for every subsequent change. Changes arrive after
// the mutation, in mutation order, and never while the transfer's lock is
// held, so fn may call back into the transfer. fn must return promptly.
func (t *Transfer) Subscribe(fn func(Change)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.observers = append(t.observers, observer{id: id, fn: fn})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, o := range t.observers {
			if o.id == id {
				t.observers = append(t.observers[:i:i], t.observers[i+1:]...)
				return
			}
		}
	}
}

// notify queues a change. Callers hold t.mu.
func (t *Transfer) notify(field Field, value any) {
	t.pending = append(t.pending, Change{Field: field, Value: value})
}

// flush delivers queued changes. Whoever holds flushMu delivers for
// everyone; a caller that loses the race leaves its changes to that
// goroutine, which re-checks the queue after letting go.
func (t *Transfer) flush() {
	for {
		if !t.flushMu.TryLock() {
			return
		}
		t.drain()
		t.flushMu.Unlock()

		t.mu.Lock()
		empty := len(t.pending) == 0
		t.mu.Unlock()
		if empty {
			return
		}
	}
}

func (t *Transfer) drain() {
	for {
		t.mu.Lock()
		if len(t.pending) == 0 {
			t.mu.Unlock()
			return
		}
		c := t.pending[0]
		t.pending = t.pending[1:]
		observers := make([]observer, len(t.observers))
		copy(observers, t.observers)
		t.mu.Unlock()

		for _, o := range observers {
			o.fn(c)
		}
		if c.Field == FieldState && c.Value.(State).Terminal() {
			close(t.done)
		}
	}
}

func (t *Transfer) setState(s State) {
	if t.state == s {
		return
	}
	t.state = s
	t.notify(FieldState, s)
}

// setProgress only moves forward and only reports integer changes.
func (t *Transfer) setProgress(p int) {
	if p <= t.progress {
		return
	}
	if p > 100 {
		p = 100
	}
	t.progress = p
	t.notify(FieldProgress, p)
}

func (t *Transfer) setDeviceName(name string) {
	if t.deviceName == name {
		return
	}
	t.deviceName = name
	t.notify(FieldDeviceName, name)
}

func (t *Transfer) setError(e *Error) {
	t.err = e
	t.notify(FieldError, e.Error())
}
