package indexer

import (
	"errors"
	"testing"
)

func TestSchedulerRunsJobsInOrder(t *testing.T) {
	s := newScheduler()
	var ran []string
	s.register(JobSweep, workerDef{work: func(j *Job) (stepResult, error) {
		ran = append(ran, "sweep")
		return stepDone, nil
	}})
	s.register(JobDelete, workerDef{work: func(j *Job) (stepResult, error) {
		ran = append(ran, "delete")
		return stepDone, nil
	}})

	s.PushBack(&Job{Kind: JobSweep})
	s.PushBack(&Job{Kind: JobDelete})
	s.Drain()

	if len(ran) != 2 || ran[0] != "sweep" || ran[1] != "delete" {
		t.Errorf("Unexpected run order: %v", ran)
	}
	if s.Pending() != 0 {
		t.Errorf("Queue should be empty, has %d", s.Pending())
	}
}

func TestSchedulerNestedJobRunsFirst(t *testing.T) {
	s := newScheduler()
	var ran []string
	s.register(JobSweep, workerDef{work: func(j *Job) (stepResult, error) {
		ran = append(ran, "sweep")
		if j.Offset == 0 {
			j.Offset++
			s.PushFront(&Job{Kind: JobFolder})
			return stepMore, nil
		}
		return stepDone, nil
	}})
	s.register(JobFolder, workerDef{work: func(j *Job) (stepResult, error) {
		ran = append(ran, "folder")
		return stepDone, nil
	}})

	s.PushBack(&Job{Kind: JobSweep})
	s.Drain()

	want := []string{"sweep", "folder", "sweep"}
	if len(ran) != len(want) {
		t.Fatalf("Expected %v, got %v", want, ran)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, ran)
		}
	}
}

func TestSchedulerKilledJobSkipsWorkRunsCleanup(t *testing.T) {
	s := newScheduler()
	worked := false
	cleaned := false
	s.register(JobFolder, workerDef{
		work:    func(j *Job) (stepResult, error) { worked = true; return stepDone, nil },
		cleanup: func(j *Job) { cleaned = true },
	})

	j := &Job{Kind: JobFolder}
	s.PushBack(j)
	j.Kill()
	s.Drain()

	if worked {
		t.Error("Killed job must not run")
	}
	if !cleaned {
		t.Error("Killed job must still be cleaned up")
	}
}

func TestSchedulerRecoverKeepsJobAlive(t *testing.T) {
	s := newScheduler()
	var units int
	s.register(JobFolder, workerDef{
		work: func(j *Job) (stepResult, error) {
			units++
			if units == 2 {
				return stepMore, errors.New("one bad message")
			}
			if units >= 4 {
				return stepDone, nil
			}
			return stepMore, nil
		},
		recover: func(j *Job, err error) bool { return true },
	})

	s.PushBack(&Job{Kind: JobFolder})
	s.Drain()

	if units != 4 {
		t.Errorf("Expected the job to survive the error and finish, ran %d units", units)
	}
}

func TestSchedulerUnrecoveredErrorAbandonsJob(t *testing.T) {
	s := newScheduler()
	cleaned := false
	s.register(JobFolder, workerDef{
		work:    func(j *Job) (stepResult, error) { return stepMore, errors.New("boom") },
		cleanup: func(j *Job) { cleaned = true },
	})
	s.register(JobDelete, workerDef{work: func(j *Job) (stepResult, error) { return stepDone, nil }})

	s.PushBack(&Job{Kind: JobFolder})
	s.PushBack(&Job{Kind: JobDelete})
	s.Drain()

	if !cleaned {
		t.Error("Abandoned job must be cleaned up")
	}
	if s.Pending() != 0 {
		t.Error("Queue should drain past the failed job")
	}
}

func TestSchedulerSuspendForgetsWithoutCleanup(t *testing.T) {
	s := newScheduler()
	cleaned := false
	s.register(JobFolder, workerDef{
		work:    func(j *Job) (stepResult, error) { return stepSuspend, nil },
		cleanup: func(j *Job) { cleaned = true },
	})

	s.PushBack(&Job{Kind: JobFolder})
	s.Drain()

	if cleaned {
		t.Error("Suspend must not run cleanup; the job is parked, not finished")
	}
	if s.Pending() != 0 {
		t.Error("Suspended job should leave the queue")
	}
}

func TestSchedulerHasJob(t *testing.T) {
	s := newScheduler()
	s.PushBack(&Job{Kind: JobSweep})
	if !s.HasJob(JobSweep) {
		t.Error("Expected HasJob to find the sweep")
	}
	if s.HasJob(JobDelete) {
		t.Error("Did not expect a delete job")
	}
}
