package reviewable

import "reviewqueue/internal/models"

// ResultStatus is the outcome of a perform handler.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
)

// PerformResult is what a handler hands back. It is never persisted.
type PerformResult struct {
	Status       ResultStatus             `json:"status"`
	TransitionTo *models.ReviewableStatus `json:"transition_to,omitempty"`
	Errors       []string                 `json:"errors,omitempty"`
	Artifacts    map[string]any           `json:"artifacts,omitempty"`
}

// ResultOption configures a successful result.
type ResultOption func(*PerformResult)

// TransitionTo asks the service to move the reviewable to status.
func TransitionTo(status models.ReviewableStatus) ResultOption {
	return func(r *PerformResult) {
		s := status
		r.TransitionTo = &s
	}
}

// WithArtifact attaches a kind-specific object to the result.
func WithArtifact(name string, value any) ResultOption {
	return func(r *PerformResult) {
		if r.Artifacts == nil {
			r.Artifacts = make(map[string]any)
		}
		r.Artifacts[name] = value
	}
}

// Success builds a successful result.
func Success(opts ...ResultOption) *PerformResult {
	r := &PerformResult{Status: ResultSuccess}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Failure builds a failed result carrying errs.
func Failure(errs ...string) *PerformResult {
	return &PerformResult{Status: ResultFailure, Errors: errs}
}

func (r *PerformResult) IsSuccess() bool {
	return r != nil && r.Status == ResultSuccess
}

// Artifact returns a named artifact.
func (r *PerformResult) Artifact(name string) (any, bool) {
	if r == nil || r.Artifacts == nil {
		return nil, false
	}
	v, ok := r.Artifacts[name]
	return v, ok
}
