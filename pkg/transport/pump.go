// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"sync"
	"time"
)

// pump moves chunks from a blocking source into a channel so reads can be
// bounded by a deadline even when the driver only offers coarse or
// connection-fatal timeouts
type pump struct {
	data    chan []byte
	done    chan struct{}
	once    sync.Once
	pending []byte

	mu  sync.Mutex
	err error
}

// startPump runs next in a goroutine until it fails or the pump is
// stopped. next returns nil, nil when nothing arrived.
func startPump(next func() ([]byte, error)) *pump {
	p := &pump{
		data: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go p.run(next)
	return p
}

func (p *pump) run(next func() ([]byte, error)) {
	defer close(p.data)
	for {
		chunk, err := next()
		if len(chunk) > 0 {
			select {
			case p.data <- chunk:
			case <-p.done:
				return
			}
		}
		if err != nil {
			select {
			case <-p.done:
				// errors after stop are the driver noticing the close
			default:
				p.mu.Lock()
				p.err = err
				p.mu.Unlock()
			}
			return
		}
		select {
		case <-p.done:
			return
		default:
		}
	}
}

func (p *pump) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	return ErrClosed
}

// readUntil copies buffered bytes into b, waiting until deadline for more
func (p *pump) readUntil(b []byte, deadline time.Time) (int, error) {
	select {
	case <-p.done:
		return 0, ErrClosed
	default:
	}

	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		return n, nil
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case chunk, ok := <-p.data:
		if !ok {
			return 0, p.failure()
		}
		n := copy(b, chunk)
		p.pending = chunk[n:]
		return n, nil
	case <-timer.C:
		return 0, nil
	case <-p.done:
		return 0, ErrClosed
	}
}

// discard drops everything received so far
func (p *pump) discard() {
	p.pending = nil
	for {
		select {
		case _, ok := <-p.data:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (p *pump) stop() {
	p.once.Do(func() { close(p.done) })
}
