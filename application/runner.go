package application

import "context"

// Runner is a unit of work started by the application: a seed task or a long-running service.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Healthchecker is implemented by services that report extra health data.
type Healthchecker interface {
	Healthcheck(ctx context.Context) any
}

// TaskConfig configures a seed task.
type TaskConfig struct {
	Name string
	// AbortOnError stops the remaining tasks when this one fails.
	AbortOnError bool
}

type task struct {
	runner Runner
	config TaskConfig
}
