package judge

import "context"

// VerdictStatus is the terminal outcome of evaluating a submission.
type VerdictStatus string

const (
	VerdictPassed VerdictStatus = "PASSED"
	VerdictFailed VerdictStatus = "FAILED"
	VerdictError  VerdictStatus = "ERROR"
)

// Request carries a submission to the executor. ProblemID identifies the test
// cases; the stub does not consult them but a sandboxed implementation will.
type Request struct {
	MatchID   string
	UserID    string
	ProblemID string
	Code      string
	Language  string
}

// Verdict is the executor's result for a single submission.
type Verdict struct {
	Status          VerdictStatus
	TestCasesPassed int
	TestCasesTotal  int
	ExecutionTimeMs int
	MemoryUsedKb    int
}

// Judge evaluates submitted code. Implementations may block; callers pass a
// context for cancellation. A returned error (or panic) is mapped to a
// submission status of ERROR by the battle manager, never propagated to the
// submitting user.
type Judge interface {
	Evaluate(ctx context.Context, req Request) (*Verdict, error)
}
