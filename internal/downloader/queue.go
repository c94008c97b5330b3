package downloader

import "sync"

// Job is a pending transfer descriptor. It lives in the queue only until the
// driver pops it; the registry entry is the durable record.
type Job struct {
	ID         string
	URL        string
	OutputPath string
}

// jobQueue is a FIFO of pending jobs with blocking Next and striking of
// not-yet-started jobs by id.
type jobQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []Job
	closed bool
}

func newJobQueue() *jobQueue {
	q := &jobQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *jobQueue) Enqueue(j Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.cond.Signal()
	q.mu.Unlock()
}

// Next blocks until a job is available or the queue is closed. The second
// return is false only after Close.
func (q *jobQueue) Next() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.jobs) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.jobs) == 0 {
		return Job{}, false
	}

	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j, true
}

// Remove strikes a pending job from the queue. No-op if the id is absent
// (already started or never enqueued).
func (q *jobQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, j := range q.jobs {
		if j.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return true
		}
	}
	return false
}

func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close wakes the driver so it can exit. Pending jobs are discarded; queue
// state does not survive the process anyway.
func (q *jobQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
