package jobs

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"ebbsync/internal/logger"
	"ebbsync/internal/status"

	"go.uber.org/zap"
)

// Handle tracks one submitted job.
type Handle struct {
	spec   Spec
	cancel context.CancelFunc

	done   chan struct{}
	result Result
	err    error
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Result blocks until the job finishes.
func (h *Handle) Result() (Result, error) {
	<-h.done
	return h.result, h.err
}

// Abort cancels the job. An in-flight request closes its connection and the
// job finishes promptly with OperationCanceled.
func (h *Handle) Abort() {
	h.cancel()
}

type queueItem struct {
	handle *Handle
	ctx    context.Context
	seq    uint64
}

type jobQueue []*queueItem

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].handle.spec.Priority != q[j].handle.spec.Priority {
		return q[i].handle.spec.Priority > q[j].handle.spec.Priority
	}

	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *jobQueue) Push(x any) { *q = append(*q, x.(*queueItem)) }

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Pool runs jobs against one backend on a bounded set of workers, highest
// priority first.
type Pool struct {
	runner   Runner
	detector *TimeoutDetector

	mu     sync.Mutex
	cond   *sync.Cond
	queue  jobQueue
	seq    uint64
	closed bool
	wg     sync.WaitGroup
}

func NewPool(runner Runner, workers int, detector *TimeoutDetector) *Pool {
	p := &Pool{
		runner:   runner,
		detector: detector,
	}
	p.cond = sync.NewCond(&p.mu)

	if workers <= 0 {
		workers = 1
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

// Submit enqueues a job and returns immediately.
func (p *Pool) Submit(ctx context.Context, spec Spec) *Handle {
	jobCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		spec:   spec,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		h.err = status.New(status.OperationCanceled, status.CauseNone)
		close(h.done)
		return h
	}

	p.seq++
	heap.Push(&p.queue, &queueItem{handle: h, ctx: jobCtx, seq: p.seq})
	p.cond.Signal()
	p.mu.Unlock()

	return h
}

// SubmitWait runs one job synchronously through the pool.
func (p *Pool) SubmitWait(ctx context.Context, spec Spec) (Result, error) {
	return p.Submit(ctx, spec).Result()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed && len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		item := heap.Pop(&p.queue).(*queueItem)
		p.mu.Unlock()

		p.run(item)
	}
}

func (p *Pool) run(item *queueItem) {
	h := item.handle
	defer close(h.done)

	if err := item.ctx.Err(); err != nil {
		h.err = status.Wrap(status.OperationCanceled, status.CauseNone, err)
		return
	}

	start := time.Now()
	h.result, h.err = p.runner.Run(item.ctx, h.spec)
	elapsed := time.Since(start)

	if p.detector != nil {
		p.detector.Record(elapsed)

		// Once the detector trips, subsequent network failures are timeouts.
		if h.err != nil && p.detector.TimedOut() && status.CodeOf(h.err) == status.NetworkError {
			h.err = status.Wrap(status.NetworkError, status.CauseNetworkTimeout, h.err)
		}
	}

	if item.ctx.Err() != nil {
		h.err = status.Wrap(status.OperationCanceled, status.CauseNone, item.ctx.Err())
	}

	if h.err != nil {
		logger.Log.Debug("job failed",
			zap.String("kind", h.spec.Kind.String()),
			zap.Duration("elapsed", elapsed),
			zap.Error(h.err))
	}
}

// Close drains the queue and stops the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
