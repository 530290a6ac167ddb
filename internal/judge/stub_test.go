package judge

import (
	"context"
	"testing"
)

func TestStubJudgeExtremes(t *testing.T) {
	ctx := context.Background()

	always := &StubJudge{PassRate: 1}
	for i := 0; i < 20; i++ {
		v, err := always.Evaluate(ctx, Request{})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if v.Status != VerdictPassed || v.TestCasesPassed != v.TestCasesTotal {
			t.Fatalf("pass rate 1 must always pass fully: %+v", v)
		}
	}

	never := &StubJudge{PassRate: 0}
	for i := 0; i < 20; i++ {
		v, err := never.Evaluate(ctx, Request{})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if v.Status != VerdictFailed {
			t.Fatalf("pass rate 0 must always fail: %+v", v)
		}
		if v.TestCasesPassed >= v.TestCasesTotal {
			t.Fatalf("a failed run cannot pass every case: %+v", v)
		}
	}
}
