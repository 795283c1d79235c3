package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultTypingIdle = 3 * time.Second

type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// TypingDebouncer: каждое нажатие шлет typing и перезапускает таймер простоя.
// По таймеру уходит ровно один stop_typing.
type TypingDebouncer struct {
	mu     sync.Mutex
	signal Signaler
	idle   time.Duration
	after  afterFunc
	onErr  func(error)

	active uuid.UUID
	timer  stopper
	gen    uint64
}

func NewTypingDebouncer(signal Signaler, idle time.Duration, onErr func(error)) *TypingDebouncer {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if onErr == nil {
		onErr = func(error) {}
	}
	return &TypingDebouncer{
		signal: signal,
		idle:   idle,
		after:  realAfterFunc,
		onErr:  onErr,
	}
}

func (d *TypingDebouncer) Keystroke(conversationID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active != uuid.Nil && d.active != conversationID {
		d.stopLocked()
	}

	d.active = conversationID
	if err := d.signal.StartTyping(conversationID); err != nil {
		d.onErr(err)
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.after(d.idle, func() {
		d.expire(gen)
	})
}

// Stop немедленно завершает набор (отправка сообщения, смена чата)
func (d *TypingDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *TypingDebouncer) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// таймер успели перезапустить или остановить
	if gen != d.gen {
		return
	}
	d.stopLocked()
}

func (d *TypingDebouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	if d.active == uuid.Nil {
		return
	}
	conversationID := d.active
	d.active = uuid.Nil
	if err := d.signal.StopTyping(conversationID); err != nil {
		d.onErr(err)
	}
}
