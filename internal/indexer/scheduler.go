package indexer

import "log"

// stepResult is what one unit of worker execution reports back.
type stepResult int

const (
	// stepMore means the job has more units to run.
	stepMore stepResult = iota
	// stepDone means the job finished.
	stepDone
	// stepSuspend means the job cannot proceed until an external event;
	// the worker has parked it somewhere and the scheduler forgets it.
	stepSuspend
)

type workerFunc func(*Job) (stepResult, error)

// workerDef binds a job kind to its worker and lifecycle hooks.
type workerDef struct {
	work workerFunc
	// recover is consulted when work returns an error; returning true
	// keeps the job running.  A nil recover abandons the job.
	recover func(*Job, error) bool
	// cleanup runs whenever a job leaves the scheduler for good: done,
	// killed, abandoned after an error.  Not on suspend.
	cleanup func(*Job)
}

// Scheduler runs jobs cooperatively, one unit at a time, on the caller's
// goroutine.  The front job runs until it finishes, suspends, or dies;
// workers nest jobs by pushing to the front.
type Scheduler struct {
	queue   []*Job
	workers map[JobKind]workerDef

	onProgress func(*Job)
}

func newScheduler() *Scheduler {
	return &Scheduler{workers: make(map[JobKind]workerDef)}
}

func (s *Scheduler) register(kind JobKind, def workerDef) {
	s.workers[kind] = def
}

// PushBack queues a job at the end.
func (s *Scheduler) PushBack(j *Job) {
	s.queue = append(s.queue, j)
}

// PushFront queues a job to run before everything else, including the
// currently active job.
func (s *Scheduler) PushFront(j *Job) {
	s.queue = append([]*Job{j}, s.queue...)
}

// Pending reports how many jobs are queued.
func (s *Scheduler) Pending() int {
	return len(s.queue)
}

// HasJob reports whether a job of the given kind is queued.
func (s *Scheduler) HasJob(kind JobKind) bool {
	for _, j := range s.queue {
		if j.Kind == kind {
			return true
		}
	}
	return false
}

// PendingJob returns a queued job of the given kind that has not started
// running yet, or nil.
func (s *Scheduler) PendingJob(kind JobKind) *Job {
	for _, j := range s.queue {
		if j.Kind == kind && !j.started && !j.killed {
			return j
		}
	}
	return nil
}

func (s *Scheduler) popFront() *Job {
	j := s.queue[0]
	s.queue = s.queue[1:]
	return j
}

func (s *Scheduler) finish(j *Job, aborted bool) {
	if def, ok := s.workers[j.Kind]; ok && def.cleanup != nil {
		def.cleanup(j)
	}
	if j.done != nil {
		j.done(aborted)
	}
}

// Step runs one unit of the front job.  It returns false once the queue
// is empty.
func (s *Scheduler) Step() bool {
	if len(s.queue) == 0 {
		return false
	}
	j := s.queue[0]

	if j.killed {
		s.popFront()
		s.finish(j, true)
		return len(s.queue) > 0
	}

	def, ok := s.workers[j.Kind]
	if !ok {
		log.Printf("Warning: no worker for %s, dropping", j)
		s.popFront()
		return len(s.queue) > 0
	}

	j.started = true
	result, err := def.work(j)
	if err != nil {
		if def.recover != nil && def.recover(j, err) {
			return true
		}
		log.Printf("Warning: abandoning %s: %v", j, err)
		s.removeJob(j)
		s.finish(j, true)
		return len(s.queue) > 0
	}

	if s.onProgress != nil {
		s.onProgress(j)
	}

	switch result {
	case stepDone:
		s.removeJob(j)
		s.finish(j, false)
	case stepSuspend:
		s.removeJob(j)
	}
	return len(s.queue) > 0
}

// removeJob drops a job from wherever it sits in the queue.  The worker
// may have pushed nested jobs in front of it, so position 0 is not a
// given.
func (s *Scheduler) removeJob(j *Job) {
	for i, cur := range s.queue {
		if cur == j {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Drain runs units until the queue empties.
func (s *Scheduler) Drain() {
	for s.Step() {
	}
}

// PurgeFolder kills every queued job touching the given folder and strips
// that folder's entries out of message-list jobs.
func (s *Scheduler) PurgeFolder(folderID int64, folderURI string) {
	for _, j := range s.queue {
		switch j.Kind {
		case JobFolder, JobFolderCompact:
			if j.FolderID == folderID {
				j.Kill()
			}
		case JobMessage:
			kept := j.refs[:0]
			for _, ref := range j.refs {
				if ref.folder.URI() != folderURI {
					kept = append(kept, ref)
				}
			}
			j.refs = kept
			if len(j.refs) == 0 {
				j.Kill()
			}
		}
	}
}
