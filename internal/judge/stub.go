package judge

import (
	"context"
	"math/rand"
)

const stubTestCases = 10

// StubJudge simulates code execution with a fixed pass probability. It stands
// in for a sandboxed executor and never returns ERROR.
type StubJudge struct {
	// PassRate in [0,1]; 1 always passes, 0 never does.
	PassRate float64
}

// NewStubJudge returns a stub with the 70% pass rate the platform demos with.
func NewStubJudge() *StubJudge {
	return &StubJudge{PassRate: 0.7}
}

func (j *StubJudge) Evaluate(_ context.Context, _ Request) (*Verdict, error) {
	passed := rand.Float64() < j.PassRate

	v := &Verdict{
		Status:          VerdictFailed,
		TestCasesPassed: rand.Intn(stubTestCases),
		TestCasesTotal:  stubTestCases,
		ExecutionTimeMs: rand.Intn(1000),
		MemoryUsedKb:    rand.Intn(50000),
	}
	if passed {
		v.Status = VerdictPassed
		v.TestCasesPassed = stubTestCases
	}
	return v, nil
}
