package executor

import (
	"runtime"
	"sync"
	"sync/atomic"
)

type panicked struct {
	value any
}

// catch runs f and returns the recovered panic, if any
func catch(f func()) (p *panicked) {
	defer func() {
		if r := recover(); r != nil {
			p = &panicked{value: r}
		}
	}()
	f()
	return nil
}

type job struct {
	run      func(w *Worker)
	done     atomic.Bool
	panicked *panicked
	// finished is closed after completion when someone outside the pool waits for the job
	finished chan struct{}
}

func (j *job) execute(w *Worker) {
	j.panicked = catch(func() {
		j.run(w)
	})
	j.done.Store(true)
	if j.finished != nil {
		close(j.finished)
	}
}

// queue is a mutex protected double ended queue of jobs
type queue struct {
	mu   sync.Mutex
	jobs []*job
}

func (q *queue) push(j *job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()
}

func (q *queue) popBack() *job {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.jobs)
	if n == 0 {
		return nil
	}
	j := q.jobs[n-1]
	q.jobs[n-1] = nil
	q.jobs = q.jobs[:n-1]
	return j
}

// popBackIf removes j if it is still the newest job, which means nobody stole it
func (q *queue) popBackIf(j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.jobs)
	if n == 0 || q.jobs[n-1] != j {
		return false
	}
	q.jobs[n-1] = nil
	q.jobs = q.jobs[:n-1]
	return true
}

func (q *queue) popFront() *job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	j := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return j
}

func runtimeYield() {
	runtime.Gosched()
}
