package media

import (
	"context"
	"fmt"

	"github.com/viddl/viddl/internal/jobs"
)

// Registry dispatches a job to the runner registered for its kind. New
// operation kinds are added by registering another runner, not by branching
// inside existing ones.
type Registry struct {
	runners map[jobs.Kind]jobs.Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[jobs.Kind]jobs.Runner)}
}

func (r *Registry) Register(kind jobs.Kind, runner jobs.Runner) {
	r.runners[kind] = runner
}

func (r *Registry) Run(ctx context.Context, job *jobs.Job, progress func(int)) (jobs.RunResult, error) {
	runner, ok := r.runners[job.Kind]
	if !ok {
		return jobs.RunResult{}, fmt.Errorf("no runner registered for kind %q", job.Kind)
	}
	return runner.Run(ctx, job, progress)
}
