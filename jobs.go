package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hospital-radius/internal/calculator"
	"hospital-radius/internal/pipeline"
)

// === Job System ===

type JobStatus string

const (
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusError   JobStatus = "error"
)

type JobResult struct {
	Source      string            `json:"source"`
	Method      calculator.Method `json:"method"`
	RadiusMiles float64           `json:"radius_miles"`
	RowsRead    int               `json:"rows_read"`
	Valid       int               `json:"valid"`
	Shown       int               `json:"shown"`

	prepared *pipeline.Prepared
}

type Job struct {
	ID        string
	Status    JobStatus
	Logs      []string
	Progress  int // 0-100
	Result    *JobResult
	Error     string
	Missing   []string
	Mutex     sync.RWMutex
	CreatedAt time.Time
}

func NewJob() *Job {
	return &Job{
		ID:        uuid.New().String(),
		Status:    StatusRunning,
		Logs:      []string{},
		CreatedAt: time.Now(),
	}
}

func (j *Job) Log(msg string) {
	j.Mutex.Lock()
	defer j.Mutex.Unlock()
	ts := time.Now().Format("15:04:05")
	j.Logs = append(j.Logs, fmt.Sprintf("[%s] %s", ts, msg))
}

func (j *Job) SetProgress(current, total int, msg string) {
	j.Mutex.Lock()
	defer j.Mutex.Unlock()
	if total > 0 {
		j.Progress = int(float64(current) / float64(total) * 100)
	}
	if msg != "" {
		ts := time.Now().Format("15:04:05")
		j.Logs = append(j.Logs, fmt.Sprintf("[%s] %s", ts, msg))
	}
}

func (j *Job) fail(msg string, missing []string) {
	j.Mutex.Lock()
	defer j.Mutex.Unlock()
	j.Status = StatusError
	j.Error = msg
	j.Missing = missing
	j.Logs = append(j.Logs, "[ERROR] "+msg)
}

func (j *Job) finish(res *JobResult) {
	j.Mutex.Lock()
	defer j.Mutex.Unlock()
	j.Status = StatusDone
	j.Result = res
	j.Progress = 100
	ts := time.Now().Format("15:04:05")
	j.Logs = append(j.Logs, fmt.Sprintf("[%s] Done.", ts))
}

// Snapshot copies the fields handlers report so the lock is not held while
// writing a response.
func (j *Job) Snapshot() (status JobStatus, progress int, logs []string, errMsg string, missing []string, res *JobResult) {
	j.Mutex.RLock()
	defer j.Mutex.RUnlock()
	logs = make([]string, len(j.Logs))
	copy(logs, j.Logs)
	return j.Status, j.Progress, logs, j.Error, j.Missing, j.Result
}

// JobStore keeps jobs in memory until they expire.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

func (s *JobStore) Add(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Sweep removes finished jobs created before now-ttl and returns how many
// were removed.
func (s *JobStore) Sweep(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		job.Mutex.RLock()
		expired := job.Status != StatusRunning && now.Sub(job.CreatedAt) > ttl
		job.Mutex.RUnlock()
		if expired {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}
