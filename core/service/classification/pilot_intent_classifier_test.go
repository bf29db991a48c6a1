package classification

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"
)

type fakeModel struct {
	outcome out.IntentOutcome
	called  bool
}

func (f *fakeModel) ClassifyIntent(_ context.Context, _, _ string) out.IntentOutcome {
	f.called = true
	return f.outcome
}

func (f *fakeModel) EvaluateDraft(_ context.Context, _, _ string, _ float64, _ int) out.VerdictOutcome {
	return out.VerdictOutcome{Verdict: domain.VerdictFail}
}

func modelResult(intent domain.Intent, confidence float64) out.IntentOutcome {
	return out.IntentOutcome{
		OK: true,
		Result: domain.IntentResult{
			Intent:     intent,
			Confidence: confidence,
			Reason:     "model",
		},
	}
}

func TestClassify_EmptyText(t *testing.T) {
	fake := &fakeModel{}
	c := NewClassifier(fake, DefaultConfig())

	result := c.Classify(context.Background(), "   ", nil)

	if result.Intent != domain.IntentOther {
		t.Errorf("intent = %s, want OTHER", result.Intent)
	}
	if result.Confidence != 0 {
		t.Errorf("confidence = %f, want 0", result.Confidence)
	}
	if fake.called {
		t.Error("model must not be called for empty text")
	}
}

func TestClassify_SpamBlocklist(t *testing.T) {
	fake := &fakeModel{}
	c := NewClassifier(fake, DefaultConfig())

	result := c.Classify(context.Background(), "Click here to join our webinar! You can unsubscribe anytime.", nil)

	if result.Intent != domain.IntentSpamOrIrrelevant {
		t.Errorf("intent = %s, want SPAM_OR_IRRELEVANT", result.Intent)
	}
	if result.Confidence < 0.99 {
		t.Errorf("confidence = %f, want >= 0.99", result.Confidence)
	}
	if fake.called {
		t.Error("model must not be called on a blocklist match")
	}
}

func TestClassify_SpamAllowlistOverride(t *testing.T) {
	fake := &fakeModel{outcome: modelResult(domain.IntentPropertyQuestion, 0.9)}
	c := NewClassifier(fake, DefaultConfig())

	// Contains both a spam keyword and a property-lead keyword: the lead
	// keyword wins, the text is never classified as spam.
	result := c.Classify(context.Background(), "Ich habe Ihren newsletter gesehen, ist die Wohnung noch frei?", nil)

	if result.Intent == domain.IntentSpamOrIrrelevant {
		t.Errorf("intent = SPAM_OR_IRRELEVANT, allowlist must override blocklist")
	}
}

func TestClassify_FastPaths(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		context    []string
		wantIntent domain.Intent
		wantModel  bool
	}{
		{
			name:       "viewing request german",
			text:       "Guten Tag, ich würde gerne einen Termin zur Besichtigung vereinbaren.",
			wantIntent: domain.IntentViewingRequest,
		},
		{
			name:       "viewing request english",
			text:       "Hi, could I book a viewing this week?",
			wantIntent: domain.IntentViewingRequest,
		},
		{
			name:       "application documents",
			text:       "Anbei meine Bewerbungsunterlagen und die Schufa-Auskunft.",
			wantIntent: domain.IntentApplicationProcess,
		},
		{
			name:       "followup with context",
			text:       "Gibt es schon eine Rückmeldung zu meiner Anfrage?",
			context:    []string{"earlier message"},
			wantIntent: domain.IntentStatusFollowup,
		},
		{
			name:       "followup without context goes to model",
			text:       "Gibt es schon eine Rückmeldung zu meiner Anfrage?",
			wantIntent: domain.IntentOther,
			wantModel:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeModel{outcome: modelResult(domain.IntentOther, 0.5)}
			c := NewClassifier(fake, DefaultConfig())

			result := c.Classify(context.Background(), tt.text, tt.context)

			if result.Intent != tt.wantIntent {
				t.Errorf("intent = %s, want %s", result.Intent, tt.wantIntent)
			}
			if fake.called != tt.wantModel {
				t.Errorf("model called = %v, want %v", fake.called, tt.wantModel)
			}
		})
	}
}

func TestClassify_ModelUnreachable(t *testing.T) {
	fake := &fakeModel{
		outcome: out.IntentOutcome{
			OK: false,
			Result: domain.IntentResult{
				Intent:     domain.IntentOther,
				Confidence: 0,
				Reason:     "model_unavailable",
			},
		},
	}
	c := NewClassifier(fake, DefaultConfig())

	result := c.Classify(context.Background(), "Can you tell me more about the neighborhood?", nil)

	if result.Intent != domain.IntentOther {
		t.Errorf("intent = %s, want OTHER", result.Intent)
	}
	if result.Confidence != 0 {
		t.Errorf("confidence = %f, want 0", result.Confidence)
	}
}

func TestClassify_ConfidenceFloor(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		wantIntent domain.Intent
	}{
		{"just below floor", 0.59, domain.IntentOther},
		{"at floor", 0.60, domain.IntentPropertyQuestion},
		{"above floor", 0.85, domain.IntentPropertyQuestion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeModel{outcome: modelResult(domain.IntentPropertyQuestion, tt.confidence)}
			c := NewClassifier(fake, DefaultConfig())

			result := c.Classify(context.Background(), "Is the kitchen furnished and what about the cellar?", nil)

			if result.Intent != tt.wantIntent {
				t.Errorf("intent = %s, want %s (confidence %f)", result.Intent, tt.wantIntent, tt.confidence)
			}
		})
	}

	t.Run("coercion reason", func(t *testing.T) {
		fake := &fakeModel{outcome: modelResult(domain.IntentPropertyQuestion, 0.59)}
		c := NewClassifier(fake, DefaultConfig())

		result := c.Classify(context.Background(), "Is the kitchen furnished and what about the cellar?", nil)

		if result.Reason != "low_confidence_guard" {
			t.Errorf("reason = %s, want low_confidence_guard", result.Reason)
		}
	})
}

func TestClassify_ModelSpamGuard(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		wantIntent domain.Intent
	}{
		{"below spam threshold", 0.95, domain.IntentOther},
		{"at spam threshold", 0.98, domain.IntentSpamOrIrrelevant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeModel{outcome: modelResult(domain.IntentSpamOrIrrelevant, tt.confidence)}
			c := NewClassifier(fake, DefaultConfig())

			result := c.Classify(context.Background(), "Some borderline text about nothing in particular.", nil)

			if result.Intent != tt.wantIntent {
				t.Errorf("intent = %s, want %s", result.Intent, tt.wantIntent)
			}
		})
	}
}

func TestClassify_EntityHeuristics(t *testing.T) {
	fake := &fakeModel{outcome: modelResult(domain.IntentPropertyQuestion, 0.8)}
	c := NewClassifier(fake, DefaultConfig())

	result := c.Classify(context.Background(), "Falls die weg ist: haben Sie ähnliche Wohnungen? Wie besprochen suche ich ab März.", nil)

	if v, _ := result.Entities[domain.EntityWantsAlternatives].(bool); !v {
		t.Error("wants_alternatives not detected")
	}
	if v, _ := result.Entities[domain.EntityRefersToPreviousProperty].(bool); !v {
		t.Error("refers_to_previous_property not detected")
	}
}

func TestClassify_DeterministicResultsCarryNoEntities(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{
			name: "fast path with entity cues",
			text: "Ich würde gerne einen Termin zur Besichtigung vereinbaren. Falls die Wohnung weg ist, haben Sie ähnliche Wohnungen?",
		},
		{
			name: "spam rule with entity cues",
			text: "Unseren newsletter jetzt abbestellen. Wie besprochen senden wir Ihnen weitere Angebote und Alternativen.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeModel{}
			c := NewClassifier(fake, DefaultConfig())

			result := c.Classify(context.Background(), tt.text, nil)

			if fake.called {
				t.Fatal("model must not be called on a deterministic branch")
			}
			if len(result.Entities) != 0 {
				t.Errorf("entities = %v, want none on deterministic results", result.Entities)
			}
		})
	}
}

func TestClassify_EntityFlagsDoNotOverrideModel(t *testing.T) {
	fake := &fakeModel{
		outcome: out.IntentOutcome{
			OK: true,
			Result: domain.IntentResult{
				Intent:     domain.IntentPropertyQuestion,
				Confidence: 0.8,
				Entities:   map[string]any{domain.EntityWantsAlternatives: false},
			},
		},
	}
	c := NewClassifier(fake, DefaultConfig())

	result := c.Classify(context.Background(), "Haben Sie ähnliche Wohnungen im Angebot?", nil)

	if v, _ := result.Entities[domain.EntityWantsAlternatives].(bool); v {
		t.Error("model-supplied entity must not be overridden by the heuristic")
	}
}

func TestTruncate_KeepsRunesIntact(t *testing.T) {
	text := strings.Repeat("Größere Wohnung über der Straße. ", 100)

	for max := 10; max < 40; max++ {
		got := truncate(text, max)
		if len(got) > max {
			t.Fatalf("truncate(.., %d) returned %d bytes", max, len(got))
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(.., %d) split a rune: %q", max, got)
		}
	}

	if got := truncate("kurz", 100); got != "kurz" {
		t.Errorf("truncate below limit = %q, want unchanged", got)
	}
}
