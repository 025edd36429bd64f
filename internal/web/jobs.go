package web

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/compressor"
	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/search"
)

var errQueueFull = errors.New("job queue is full")

// JobState is the lifecycle position of a queued compression.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobCancelled JobState = "cancelled"
)

// Job is one compression submitted over HTTP.
type Job struct {
	ID        string
	Task      compressor.Task
	CreatedAt time.Time

	mu         sync.Mutex
	state      JobState
	iterations int
	lastSize   int64
	result     *compressor.Result
	startedAt  time.Time
	finishedAt time.Time
	cancel     context.CancelFunc
}

// JobView is the JSON shape of a job.
type JobView struct {
	ID         string             `json:"id"`
	State      JobState           `json:"state"`
	InputPath  string             `json:"input_path"`
	OutputPath string             `json:"output_path"`
	TargetSize string             `json:"target_size,omitempty"`
	Percent    float64            `json:"target_percent,omitempty"`
	Iterations int                `json:"iterations"`
	LastSize   int64              `json:"last_size,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Result     *compressor.Result `json:"result,omitempty"`
}

func (j *Job) view() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()

	v := JobView{
		ID:         j.ID,
		State:      j.state,
		InputPath:  j.Task.InputPath,
		OutputPath: j.Task.OutputPath,
		TargetSize: j.Task.TargetSpec,
		Percent:    j.Task.TargetPercent,
		Iterations: j.iterations,
		LastSize:   j.lastSize,
		CreatedAt:  j.CreatedAt,
		Result:     j.result,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		v.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		v.FinishedAt = &t
	}
	return v
}

func (j *Job) setState(state JobState) {
	j.state = state
}

func (j *Job) current() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func sortViews(views []JobView) {
	sort.Slice(views, func(a, b int) bool {
		if views[a].CreatedAt.Equal(views[b].CreatedAt) {
			return views[a].ID < views[b].ID
		}
		return views[a].CreatedAt.Before(views[b].CreatedAt)
	})
}

// enqueue registers a job and hands it to the worker pool without blocking.
func (s *Server) enqueue(task compressor.Task) (*Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		Task:      task,
		CreatedAt: time.Now(),
	}
	job.setState(JobQueued)

	s.jobsMutex.Lock()
	select {
	case s.queue <- job:
		s.jobs[job.ID] = job
	default:
		s.jobsMutex.Unlock()
		return nil, errQueueFull
	}
	s.jobsMutex.Unlock()

	if s.metrics != nil {
		s.metrics.JobsQueued.Inc()
	}
	logger.WithOperation(s.log, "compress").WithFields(logrus.Fields{
		"job_id": job.ID,
		"file":   task.InputPath,
	}).Info("Job queued")
	s.broadcastWSMessage("job_queued", job.view())
	return job, nil
}

func (s *Server) lookup(id string) *Job {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()
	return s.jobs[id]
}

// cancelJob stops a queued or running job. It returns false when the job
// has already finished.
func (s *Server) cancelJob(job *Job) bool {
	job.mu.Lock()
	switch job.state {
	case JobQueued:
		job.setState(JobCancelled)
		job.finishedAt = time.Now()
		job.mu.Unlock()
		s.broadcastWSMessage("job_cancelled", map[string]interface{}{"id": job.ID})
		return true
	case JobRunning:
		job.setState(JobCancelled)
		cancel := job.cancel
		job.mu.Unlock()
		cancel()
		return true
	default:
		job.mu.Unlock()
		return false
	}
}

func (s *Server) startWorkers(n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			s.worker()
		}()
	}
}

func (s *Server) worker() {
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case job := <-s.queue:
			if s.metrics != nil {
				s.metrics.JobsQueued.Dec()
			}
			s.runJob(job)
		}
	}
}

func (s *Server) runJob(job *Job) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout := s.cfg.Performance.JobTimeout; timeout > 0 {
		ctx, cancel = context.WithTimeout(s.baseCtx, timeout)
	} else {
		ctx, cancel = context.WithCancel(s.baseCtx)
	}
	defer cancel()

	job.mu.Lock()
	if job.state != JobQueued {
		job.mu.Unlock()
		return
	}
	job.setState(JobRunning)
	job.startedAt = time.Now()
	job.cancel = cancel
	job.mu.Unlock()

	if s.metrics != nil {
		s.metrics.JobsInFlight.Inc()
		defer s.metrics.JobsInFlight.Dec()
	}
	s.broadcastWSMessage("job_started", map[string]interface{}{"id": job.ID})

	task := job.Task
	task.Observer = &jobObserver{server: s, job: job}
	res := s.comp.Compress(ctx, task)
	s.stats.RecordResult(res)

	job.mu.Lock()
	if job.state != JobCancelled {
		job.setState(JobDone)
	}
	job.result = res
	job.finishedAt = time.Now()
	job.mu.Unlock()

	logger.WithOperation(s.log, "compress").WithFields(logrus.Fields{
		"job_id": job.ID,
		"status": res.Status,
	}).Info("Job finished")
	s.broadcastWSMessage("job_finished", job.view())
}

// jobObserver streams search progress of one job to websocket clients.
type jobObserver struct {
	server *Server
	job    *Job
}

func (o *jobObserver) AttemptFinished(step search.Step) {
	o.job.mu.Lock()
	o.job.iterations = step.Iteration
	if step.Err == nil {
		o.job.lastSize = step.Size
	}
	o.job.mu.Unlock()

	data := map[string]interface{}{
		"id":        o.job.ID,
		"iteration": step.Iteration,
		"parameter": step.Parameter,
		"size":      step.Size,
		"within":    step.Within,
	}
	if step.Err != nil {
		data["error"] = step.Err.Error()
	}
	o.server.broadcastWSMessage("job_attempt", data)
}

func (o *jobObserver) SearchFinished(outcome search.Outcome) {
	o.server.broadcastWSMessage("job_search_finished", map[string]interface{}{
		"id":          o.job.ID,
		"termination": outcome.Reason.String(),
		"iterations":  outcome.Iterations,
	})
}
