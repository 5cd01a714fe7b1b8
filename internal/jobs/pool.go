package jobs

import (
	"container/heap"
	"context"
	"sync"

	"github.com/lingodoc/lingodoc/pkg/log"
)

// Task is one unit of work for the pool.
type Task func(ctx context.Context)

type poolItem struct {
	priority int64
	seq      uint64
	task     Task
}

// taskHeap orders by ascending priority, then submission order.
type taskHeap []*poolItem

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*poolItem)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Pool runs submitted tasks on a fixed set of workers, lowest priority
// value first. Stop lets queued and running tasks finish before
// returning.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskHeap
	seq     uint64
	closed  bool
	workers sync.WaitGroup
}

// NewPool starts a pool with the given number of workers.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	p.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

// Submit queues a task. Lower priority values run earlier. Submitting to
// a stopped pool drops the task.
func (p *Pool) Submit(priority int64, task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.seq++
	heap.Push(&p.queue, &poolItem{priority: priority, seq: p.seq, task: task})
	p.cond.Signal()
	return true
}

// Pending returns the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

func (p *Pool) worker(id int) {
	defer p.workers.Done()
	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.queue.Len() == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		item := heap.Pop(&p.queue).(*poolItem)
		p.mu.Unlock()

		// Each task gets its own context so a single run can be
		// cancelled without touching the pool.
		ctx, cancel := context.WithCancel(context.Background())
		func() {
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					log.Error("Worker %d: task panicked: %v", id, r)
				}
			}()
			item.task(ctx)
		}()
	}
}

// Stop drains the queue and waits for all workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.workers.Wait()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.workers.Wait()
}
