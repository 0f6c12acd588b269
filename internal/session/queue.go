// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package session

import "sync"

// serialQueue is a single dedicated goroutine draining a bounded job
// channel, generalizing the teacher's Connection.receiveLoop channel
// pattern (internal/core/connection.go) into a reusable building block.
// Session instantiates it twice (messageQueue, appstateQueue) so the two
// domains never block each other.
type serialQueue struct {
	jobs chan func()

	closeOnce sync.Once
	done      chan struct{}
}

func newSerialQueue(capacity int) *serialQueue {
	q := &serialQueue{
		jobs: make(chan func(), capacity),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *serialQueue) run() {
	defer close(q.done)
	for job := range q.jobs {
		job()
	}
}

// Submit enqueues fn, blocking if the queue is full. It is a no-op once
// the queue has been closed.
func (q *serialQueue) Submit(fn func()) {
	defer func() {
		// Recovers a send-on-closed-channel panic if Close races a Submit
		// call from a goroutine that hasn't observed the session closing
		// yet — the job is simply dropped, matching SessionClosed semantics.
		_ = recover()
	}()
	q.jobs <- fn
}

func (q *serialQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.jobs)
	})
	<-q.done
}
