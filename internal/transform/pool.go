package transform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aperture-photos/aperture/internal/logger"
	"github.com/aperture-photos/aperture/internal/metrics"
)

// Pool runs transforms on a fixed number of workers. CPU-bound encoding
// saturates a core, so the pool is sized below the core count to leave
// headroom for the dispatcher's I/O work. The buffered submit channel is the
// backpressure point: when every worker is busy, Submit blocks locally
// instead of pushing the job back to the broker.
//
// Task submission is the only way in; worker goroutines are never exposed.
type Pool struct {
	transformer *Transformer
	requests    chan request
	workers     int

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

type Task struct {
	Raw      []byte
	MimeType string
}

type request struct {
	ctx   context.Context
	task  Task
	reply chan result
}

type result struct {
	out *Output
	err error
}

func NewPool(t *Transformer, workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Pool{
		transformer: t,
		requests:    make(chan request, queueDepth),
		workers:     workers,
		done:        make(chan struct{}),
	}
}

func (p *Pool) Start() {
	p.startOnce.Do(func() {
		metrics.TransformPoolSize.Set(float64(p.workers))
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Stop drains the pool. In-flight tasks finish and queued tasks are answered
// before the workers exit. The requests channel is never closed; a concurrent
// Submit observes done instead, so late submitters get an error, not a panic.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

// Submit blocks until a worker picks the task up or ctx expires. The reply
// always arrives exactly once per accepted task.
func (p *Pool) Submit(ctx context.Context, task Task) (*Output, error) {
	req := request{
		ctx:   ctx,
		task:  task,
		reply: make(chan result, 1),
	}

	metrics.TransformQueueDepth.Inc()
	select {
	case p.requests <- req:
		metrics.TransformQueueDepth.Dec()
	case <-p.done:
		metrics.TransformQueueDepth.Dec()
		return nil, fmt.Errorf("transform pool stopped")
	case <-ctx.Done():
		metrics.TransformQueueDepth.Dec()
		return nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.out, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// worker drains the request channel. A panicking transform is converted to
// a typed error for that task and the worker goroutine is replaced, so one
// poisoned input can never take the dispatcher down with it.
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Default().Error("transform worker crashed, restarting", "worker", id, "panic", fmt.Sprint(r))
			metrics.TransformWorkerRestarts.Inc()
			select {
			case <-p.done:
			default:
				p.wg.Add(1)
				go p.worker(id)
			}
		}
	}()

	for {
		select {
		case req := <-p.requests:
			p.handle(req)
		case <-p.done:
			// Answer anything still queued, then exit.
			for {
				select {
				case req := <-p.requests:
					p.handle(req)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) handle(req request) {
	if err := req.ctx.Err(); err != nil {
		req.reply <- result{err: err}
		return
	}

	start := time.Now()
	out, err := p.runTask(req.task)
	metrics.TransformDuration.Observe(time.Since(start).Seconds())

	select {
	case req.reply <- result{out: out, err: err}:
	case <-req.ctx.Done():
	}
}

func (p *Pool) runTask(task Task) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = newError(ReasonWorkerPanic, fmt.Errorf("%v", r))
		}
	}()
	return p.transformer.Process(task.Raw, task.MimeType)
}
