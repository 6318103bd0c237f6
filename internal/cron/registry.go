package cron

import "context"

// Job is a unit of scheduled billing work. Jobs must tolerate repeated
// runs; every sweep reloads its own state and skips rows that already
// moved on.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds the sweep jobs the worker executes each cycle, in
// registration order.
type Registry struct {
	entries []Job
}

// NewRegistry builds a registry from the given jobs. Nil entries are
// skipped so callers can pass conditionally constructed jobs.
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

// Register appends a job. Nil jobs are ignored.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.entries = append(r.entries, job)
}

// Jobs returns a copy of the registered jobs in execution order.
func (r *Registry) Jobs() []Job {
	out := make([]Job, len(r.entries))
	copy(out, r.entries)
	return out
}
