package timeout

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"
)

// Manager stores deferred messages until they are due.
type Manager interface {
	Defer(ctx context.Context, dueTime time.Time, headers map[string]string, body []byte) error
	//GetDueMessages returns the messages due now. The result keeps the manager locked until it is released.
	GetDueMessages(ctx context.Context) (*DueMessages, error)
}

// DueMessage is a deferred message whose due time has passed.
type DueMessage struct {
	Headers   map[string]string
	Body      []byte
	mu        sync.Mutex
	completed bool
	complete  func() error
}

func NewDueMessage(headers map[string]string, body []byte, complete func() error) *DueMessage {
	return &DueMessage{
		Headers:  headers,
		Body:     body,
		complete: complete,
	}
}

/*
Complete removes the message from the store after it has been handed off.
Calling it again after a successful call does nothing.
*/
func (m *DueMessage) Complete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.completed {
		return nil
	}
	if m.complete != nil {
		if err := m.complete(); err != nil {
			return err
		}
	}
	m.completed = true
	return nil
}

/*
DueMessages is the result of a GetDueMessages call. Its messages can be iterated once through All;
Release must be called on every path once the result has been processed, typically with defer.
*/
type DueMessages struct {
	seq       iter.Seq2[*DueMessage, error]
	consumed  atomic.Bool
	released  atomic.Bool
	release   func()
	onRelease sync.Once
}

func NewDueMessages(seq iter.Seq2[*DueMessage, error], release func()) *DueMessages {
	return &DueMessages{
		seq:     seq,
		release: release,
	}
}

// Messages builds a sequence over an already loaded slice.
func Messages(messages ...*DueMessage) iter.Seq2[*DueMessage, error] {
	return func(yield func(*DueMessage, error) bool) {
		for _, m := range messages {
			if !yield(m, nil) {
				return
			}
		}
	}
}

// All yields the due messages lazily. Only the first call yields anything, and nothing is yielded after Release.
func (d *DueMessages) All() iter.Seq2[*DueMessage, error] {
	return func(yield func(*DueMessage, error) bool) {
		if d.seq == nil || d.released.Load() || !d.consumed.CompareAndSwap(false, true) {
			return
		}
		for m, err := range d.seq {
			if d.released.Load() {
				return
			}
			if !yield(m, err) {
				return
			}
		}
	}
}

// Release unlocks the manager. It is safe to call more than once.
func (d *DueMessages) Release() {
	d.onRelease.Do(func() {
		d.released.Store(true)
		if d.release != nil {
			d.release()
		}
	})
}
