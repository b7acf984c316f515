package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/denyherianto/delegate/internal/exec"
	"github.com/denyherianto/delegate/pkg/models"
)

// StepResult records one pipeline step's outcome.
type StepResult struct {
	Name     string
	Output   string
	Err      error
	Duration time.Duration
}

// RunPipeline executes the repo's pre-merge steps in order inside dir,
// stopping at the first failure. Each step runs through "sh -c" with
// its own timeout; timeout_seconds of zero means unbounded.
func RunPipeline(ctx context.Context, runner exec.CommandRunner, dir string, steps []models.PipelineStep) ([]StepResult, error) {
	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		start := time.Now()
		out, err := runner.RunShellTimeout(ctx, dir, step.Command,
			time.Duration(step.TimeoutSeconds)*time.Second)
		result := StepResult{
			Name:     step.Name,
			Output:   string(out),
			Err:      err,
			Duration: time.Since(start),
		}
		results = append(results, result)
		if err != nil {
			return results, fmt.Errorf("step %q failed: %w", step.Name, err)
		}
	}
	return results, nil
}
