package evaluator

import "context"

// Request identifies one evaluator call for one submission version. The
// RequestID is regenerated per attempt and lets evaluators deduplicate
// retried calls.
type Request struct {
	RequestID string
	VersionID uint
	FileRefs  []string
}

// Result is the normalised outcome of an evaluator call. Score is on a
// 0-100 scale; Detail carries the evaluator-specific payload verbatim.
type Result struct {
	Score  float64
	Detail map[string]interface{}
}

// Evaluator is a remote service scoring one version of a submission.
type Evaluator interface {
	Check(ctx context.Context, req Request) (Result, error)
}
