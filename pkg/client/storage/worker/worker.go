// Package worker is the background-worker tier: a single goroutine owns the
// record and answers requests sent over a channel.
package worker

import (
	"context"
	"sync"

	"qx7/pkg/client/storage"
	"qx7/pkg/platform/sentinel"
)

type op int

const (
	opWrite op = iota
	opRead
	opDelete
	opPing
	opReset
)

type request struct {
	op    op
	rec   storage.Record
	reply chan response
}

type response struct {
	rec storage.Record
	err error
}

// Worker answers storage requests from its own goroutine. The zero value is
// not usable; create one with Start.
type Worker struct {
	inbox chan request
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// Start launches the worker goroutine. It runs until Stop is called or ctx is
// cancelled.
func Start(ctx context.Context) *Worker {
	w := &Worker{
		inbox: make(chan request),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	var (
		rec storage.Record
		has bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case req := <-w.inbox:
			var resp response
			switch req.op {
			case opWrite:
				rec, has = req.rec, true
			case opRead:
				if has {
					resp.rec = rec
				} else {
					resp.err = sentinel.ErrNotFound
				}
			case opDelete, opReset:
				rec, has = storage.Record{}, false
			case opPing:
			}
			req.reply <- resp
		}
	}
}

// Stop terminates the worker and waits for it to exit.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Worker) Kind() storage.Kind {
	return storage.KindWorker
}

func (w *Worker) Write(ctx context.Context, rec storage.Record) error {
	_, err := w.call(ctx, request{op: opWrite, rec: rec})
	return err
}

func (w *Worker) Read(ctx context.Context) (storage.Record, error) {
	return w.call(ctx, request{op: opRead})
}

func (w *Worker) Delete(ctx context.Context) error {
	_, err := w.call(ctx, request{op: opDelete})
	return err
}

// Ping succeeds when the worker is alive and answering.
func (w *Worker) Ping(ctx context.Context) error {
	_, err := w.call(ctx, request{op: opPing})
	return err
}

// Reset drops the held record, as when the worker is re-registered.
func (w *Worker) Reset(ctx context.Context) error {
	_, err := w.call(ctx, request{op: opReset})
	return err
}

func (w *Worker) call(ctx context.Context, req request) (storage.Record, error) {
	req.reply = make(chan response, 1)
	select {
	case w.inbox <- req:
	case <-w.done:
		return storage.Record{}, sentinel.ErrClosed
	case <-ctx.Done():
		return storage.Record{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp.rec, resp.err
	case <-ctx.Done():
		return storage.Record{}, ctx.Err()
	}
}
