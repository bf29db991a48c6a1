package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"pilot_server/core/domain"
	"pilot_server/pkg/resilience"
)

type fakeCompletion struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompletion) CompleteJSON(_ context.Context, _, _ string, _ float32, _ int) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func testPolicy() *resilience.RetryPolicy {
	return &resilience.RetryPolicy{
		MaxAttempts:    2,
		AttemptTimeout: time.Second,
		Backoff:        0,
	}
}

func TestClassifyIntent_FailClosed(t *testing.T) {
	fake := &fakeCompletion{err: errors.New("connection refused")}
	adapter := NewModelAdapter(fake, testPolicy(), 512)

	outcome := adapter.ClassifyIntent(context.Background(), "system", "user")

	if outcome.OK {
		t.Error("expected OK=false when model is unreachable")
	}
	if outcome.Result.Intent != domain.IntentOther {
		t.Errorf("intent = %s, want OTHER", outcome.Result.Intent)
	}
	if outcome.Result.Confidence != 0 {
		t.Errorf("confidence = %f, want 0", outcome.Result.Confidence)
	}
	if fake.calls != 2 {
		t.Errorf("calls = %d, want 2 (retried once)", fake.calls)
	}
}

func TestClassifyIntent_Normalization(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		wantIntent domain.Intent
		wantConf   float64
	}{
		{
			name:       "valid json",
			response:   `{"intent":"VIEWING_REQUEST","confidence":0.91,"reason":"asks for a viewing"}`,
			wantIntent: domain.IntentViewingRequest,
			wantConf:   0.91,
		},
		{
			name:       "fenced json",
			response:   "```json\n{\"intent\":\"PRICE_NEGOTIATION\",\"confidence\":0.8}\n```",
			wantIntent: domain.IntentPriceNegotiation,
			wantConf:   0.8,
		},
		{
			name:       "unknown label coerced",
			response:   `{"intent":"COMPLAINT","confidence":0.9}`,
			wantIntent: domain.IntentOther,
			wantConf:   0,
		},
		{
			name:       "confidence clamped",
			response:   `{"intent":"OTHER","confidence":1.7}`,
			wantIntent: domain.IntentOther,
			wantConf:   1,
		},
		{
			name:       "token scan fallback",
			response:   "The intent here is clearly STATUS_FOLLOWUP.",
			wantIntent: domain.IntentStatusFollowup,
			wantConf:   0.5,
		},
		{
			name:       "garbage defaults to OTHER",
			response:   "no label to be found",
			wantIntent: domain.IntentOther,
			wantConf:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCompletion{response: tt.response}
			adapter := NewModelAdapter(fake, testPolicy(), 512)

			outcome := adapter.ClassifyIntent(context.Background(), "system", "user")

			if !outcome.OK {
				t.Fatal("expected OK=true")
			}
			if outcome.Result.Intent != tt.wantIntent {
				t.Errorf("intent = %s, want %s", outcome.Result.Intent, tt.wantIntent)
			}
			if outcome.Result.Confidence != tt.wantConf {
				t.Errorf("confidence = %f, want %f", outcome.Result.Confidence, tt.wantConf)
			}
		})
	}
}

func TestEvaluateDraft_Normalization(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantVerdict domain.Verdict
	}{
		{
			name:        "valid pass",
			response:    `{"verdict":"pass","reason":"looks good"}`,
			wantVerdict: domain.VerdictPass,
		},
		{
			name:        "uppercase verdict",
			response:    `{"verdict":"WARN","reason":"tone"}`,
			wantVerdict: domain.VerdictWarn,
		},
		{
			name:        "unknown verdict fails closed",
			response:    `{"verdict":"maybe","reason":""}`,
			wantVerdict: domain.VerdictFail,
		},
		{
			name:        "token scan prefers conservative label",
			response:    "This would pass except for the pricing error, so: fail",
			wantVerdict: domain.VerdictFail,
		},
		{
			name:        "plain pass token",
			response:    "verdict: pass",
			wantVerdict: domain.VerdictPass,
		},
		{
			name:        "garbage fails closed",
			response:    "I cannot evaluate this",
			wantVerdict: domain.VerdictFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCompletion{response: tt.response}
			adapter := NewModelAdapter(fake, testPolicy(), 512)

			outcome := adapter.EvaluateDraft(context.Background(), "system", "user", 0, 512)

			if outcome.Verdict != tt.wantVerdict {
				t.Errorf("verdict = %s, want %s", outcome.Verdict, tt.wantVerdict)
			}
		})
	}
}

func TestEvaluateDraft_FailClosed(t *testing.T) {
	fake := &fakeCompletion{err: errors.New("timeout")}
	adapter := NewModelAdapter(fake, testPolicy(), 512)

	outcome := adapter.EvaluateDraft(context.Background(), "system", "user", 0, 512)

	if outcome.OK {
		t.Error("expected OK=false when model is unreachable")
	}
	if outcome.Verdict != domain.VerdictFail {
		t.Errorf("verdict = %s, want fail", outcome.Verdict)
	}
}
