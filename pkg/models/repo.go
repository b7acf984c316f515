package models

// ApprovalMode controls whether approved tasks release to merging
// automatically or wait for a human click.
type ApprovalMode string

const (
	// ApprovalAuto releases tasks to merging as soon as they are approved.
	ApprovalAuto ApprovalMode = "auto"
	// ApprovalManual waits for a human to release the task.
	ApprovalManual ApprovalMode = "manual"
)

// Valid returns true if the mode is a known value.
func (m ApprovalMode) Valid() bool {
	return m == ApprovalAuto || m == ApprovalManual
}

// PipelineStep is one named shell step of a repository's pre-merge pipeline.
type PipelineStep struct {
	// Name identifies the step in failure diagnostics.
	Name string `json:"name" yaml:"name"`
	// Command is executed through "sh -c" in the agent worktree.
	Command string `json:"command" yaml:"command"`
	// TimeoutSeconds bounds the step's runtime; 0 means no timeout.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// Repo is a registered local git checkout, referenced by team-scoped name.
type Repo struct {
	// Team is the owning team's slug.
	Team string `json:"team"`
	// Name is the team-scoped symbolic name of the repo.
	Name string `json:"name"`
	// Path is the absolute path of the checkout.
	Path string `json:"path"`
	// Approval controls release from in_approval to merging.
	Approval ApprovalMode `json:"approval"`
	// Pipeline is the ordered list of pre-merge steps.
	Pipeline []PipelineStep `json:"pipeline,omitempty"`
}

// WrapLegacyTestCmd converts a legacy single test command into a
// one-step pipeline named "test". Returns nil for an empty command.
func WrapLegacyTestCmd(testCmd string) []PipelineStep {
	if testCmd == "" {
		return nil
	}
	return []PipelineStep{{Name: "test", Command: testCmd}}
}
