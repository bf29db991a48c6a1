package domain

// Intent is the closed taxonomy of inbound lead email intents. Model output
// is coerced into this set; anything unrecognized becomes IntentOther.
type Intent string

const (
	IntentViewingRequest     Intent = "VIEWING_REQUEST"
	IntentApplicationProcess Intent = "APPLICATION_PROCESS"
	IntentStatusFollowup     Intent = "STATUS_FOLLOWUP"
	IntentPropertyQuestion   Intent = "PROPERTY_QUESTION"
	IntentPriceNegotiation   Intent = "PRICE_NEGOTIATION"
	IntentCancellation       Intent = "CANCELLATION"
	IntentSpamOrIrrelevant   Intent = "SPAM_OR_IRRELEVANT"
	IntentOther              Intent = "OTHER"
)

// AllIntents lists every valid intent label.
var AllIntents = []Intent{
	IntentViewingRequest,
	IntentApplicationProcess,
	IntentStatusFollowup,
	IntentPropertyQuestion,
	IntentPriceNegotiation,
	IntentCancellation,
	IntentSpamOrIrrelevant,
	IntentOther,
}

// ParseIntent coerces a raw label into the taxonomy. Unknown labels map to
// IntentOther.
func ParseIntent(s string) Intent {
	for _, it := range AllIntents {
		if string(it) == s {
			return it
		}
	}
	return IntentOther
}

// IsValidIntent reports whether s is a known intent label.
func IsValidIntent(s string) bool {
	for _, it := range AllIntents {
		if string(it) == s {
			return true
		}
	}
	return false
}

// IntentResult is the classifier output for one inbound message.
type IntentResult struct {
	Intent     Intent         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason,omitempty"`
	Entities   map[string]any `json:"entities,omitempty"`
}

// Entity keys computed deterministically and merged into the model's
// entity map when absent.
const (
	EntityWantsAlternatives        = "wants_alternatives"
	EntityRefersToPreviousProperty = "refers_to_previous_property"
)
