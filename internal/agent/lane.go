// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package agent

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	sberr "github.com/safebill/assistant/pkg/errors"
)

type workItem struct {
	fn     func(context.Context) error
	ctx    context.Context
	result chan<- error
}

// Lane runs the turns of one session one at a time, in submission order, so
// that two browser tabs on the same session cannot interleave their history.
type Lane struct {
	sessionID string
	queue     chan workItem
	done      chan struct{}
	closing   chan struct{}

	once sync.Once
}

// NewLane starts the worker goroutine for sessionID. Call Close to stop it.
func NewLane(sessionID string) *Lane {
	l := &Lane{
		sessionID: sessionID,
		queue:     make(chan workItem, 64),
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Lane) run() {
	defer close(l.done)
	for {
		select {
		case w := <-l.queue:
			l.execute(w)
		case <-l.closing:
			for {
				select {
				case w := <-l.queue:
					l.execute(w)
				default:
					return
				}
			}
		}
	}
}

func (l *Lane) execute(w workItem) {
	if err := w.ctx.Err(); err != nil {
		w.result <- err
		return
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("lane worker panic recovered",
					"session_id", l.sessionID,
					"panic", r,
					"stack", string(debug.Stack()))
				err = sberr.Errorf(sberr.CodeAgentTurnFailure, "worker panic: %v", r)
			}
		}()
		err = w.fn(w.ctx)
	}()

	w.result <- err
}

// Submit runs fn on the lane and waits for it. fn is skipped when ctx ends
// before its turn comes.
func (l *Lane) Submit(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-l.closing:
		return sberr.New(sberr.CodeAgentLaneClosed, "lane is closed", sberr.FieldSessionID(l.sessionID))
	default:
	}

	result := make(chan error, 1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closing:
		return sberr.New(sberr.CodeAgentLaneClosed, "lane is closed", sberr.FieldSessionID(l.sessionID))
	case l.queue <- workItem{fn: fn, ctx: ctx, result: result}:
	}

	// A running fn observes ctx itself; waiting for it keeps the lane
	// strictly serial.
	return <-result
}

// Close stops accepting work, drains the queue and waits for the worker.
// It is idempotent.
func (l *Lane) Close() {
	l.once.Do(func() {
		close(l.closing)
		<-l.done
	})
}

// LanePool hands out one Lane per session ID.
type LanePool struct {
	mu    sync.Mutex
	lanes map[string]*Lane
}

func NewLanePool() *LanePool {
	return &LanePool{lanes: make(map[string]*Lane)}
}

// Get returns the session's lane, creating it on first use.
func (p *LanePool) Get(sessionID string) *Lane {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.lanes[sessionID]; ok {
		return l
	}
	l := NewLane(sessionID)
	p.lanes[sessionID] = l
	return l
}

// Remove closes and forgets the session's lane, if any.
func (p *LanePool) Remove(sessionID string) {
	p.mu.Lock()
	l, ok := p.lanes[sessionID]
	delete(p.lanes, sessionID)
	p.mu.Unlock()

	if ok {
		l.Close()
	}
}

// Len reports how many lanes are open.
func (p *LanePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lanes)
}

// Close shuts down every lane.
func (p *LanePool) Close() {
	p.mu.Lock()
	lanes := p.lanes
	p.lanes = make(map[string]*Lane)
	p.mu.Unlock()

	for _, l := range lanes {
		l.Close()
	}
}
