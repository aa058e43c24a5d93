package events

import "time"

// Observer receives queue and dispatch measurements.
type Observer interface {
	EventEnqueued(name string)
	EventDispatched(name string, listeners int, took time.Duration)
	ListenerFailed(name string)
	// QueueDepth is sampled by the drain goroutine after each dequeue and
	// once more, as 0, before it goes idle.
	QueueDepth(n int)
}

type nopObserver struct{}

func (nopObserver) EventEnqueued(string)                       {}
func (nopObserver) EventDispatched(string, int, time.Duration) {}
func (nopObserver) ListenerFailed(string)                      {}
func (nopObserver) QueueDepth(int)                             {}
