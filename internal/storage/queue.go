package storage

import (
	"context"
	"path/filepath"
	"sync"
)

// pathQueues serializes jobs per path in strict arrival order.
// Each job waits for the completion of the job enqueued before it.
type pathQueues struct {
	mu     sync.Mutex
	queues map[string]*pathQueue
}

type pathQueue struct {
	tail    chan struct{}
	pending int
}

func newPathQueues() *pathQueues {
	return &pathQueues{queues: make(map[string]*pathQueue)}
}

func queueKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// run executes job after every job previously enqueued for path has finished.
// A caller whose context ends while waiting returns ctx.Err(), but its slot
// is only released once its predecessor is done, so ordering is preserved.
func (p *pathQueues) run(ctx context.Context, path string, job func() error) error {
	key := queueKey(path)
	done := make(chan struct{})

	p.mu.Lock()
	q, ok := p.queues[key]
	if !ok {
		q = &pathQueue{}
		p.queues[key] = q
	}
	prev := q.tail
	q.tail = done
	q.pending++
	p.mu.Unlock()

	release := func() {
		close(done)
		p.mu.Lock()
		q.pending--
		if q.pending == 0 {
			delete(p.queues, key)
		}
		p.mu.Unlock()
	}

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			go func() {
				<-prev
				release()
			}()
			return ctx.Err()
		}
	}

	defer release()
	return job()
}

// depth returns the number of queued or running jobs for path
func (p *pathQueues) depth(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.queues[queueKey(path)]; ok {
		return q.pending
	}
	return 0
}
