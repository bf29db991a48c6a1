package classification

import (
	"regexp"
	"strings"

	"pilot_server/core/domain"
)

// Deterministic stage of the classifier: lexical spam detection, regex
// fast paths, and entity heuristics. These run before any model call and
// carry fixed confidences.

// spamBlocklist marks bounce/system/marketing mail. Matching is
// case-insensitive substring.
var spamBlocklist = []string{
	"mailer-daemon",
	"delivery status notification",
	"undelivered mail",
	"zustellung fehlgeschlagen",
	"unsubscribe",
	"abbestellen",
	"newsletter",
	"no-reply",
	"noreply",
	"out of office",
	"abwesenheitsnotiz",
	"automatische antwort",
	"webinar",
	"limited offer",
	"sale ends",
	"gewinnspiel",
}

// propertyAllowlist overrides the blocklist: a lead talking about a
// property is never dropped as spam, even when the text also matches a
// spam phrase.
var propertyAllowlist = []string{
	"wohnung",
	"immobilie",
	"besichtigung",
	"miete",
	"mietvertrag",
	"kaltmiete",
	"zimmer",
	"haus",
	"expose",
	"exposé",
	"apartment",
	"property",
	"viewing",
	"listing",
	"rent",
}

var (
	viewingPattern = regexp.MustCompile(`(?i)(besichtigung|besichtigungstermin|termin\s+(zur|für die)\s+besichtigung|schedule\s+a\s+viewing|book\s+a\s+viewing|viewing\s+appointment)`)

	applicationPattern = regexp.MustCompile(`(?i)(bewerbungsunterlagen|bewerbung\s+(für|um)\s+die\s+wohnung|selbstauskunft|schufa[-\s]?auskunft|application\s+documents|apply\s+for\s+the\s+(apartment|flat|property))`)

	followupPattern = regexp.MustCompile(`(?i)(rückmeldung|status\s+meiner\s+(anfrage|bewerbung)|noch\s+aktuell|any\s+update|following\s+up|follow[-\s]up\s+on|haben\s+sie\s+schon)`)
)

// Fixed confidences for the deterministic paths.
const (
	spamRuleConfidence        = 0.995
	viewingRuleConfidence     = 0.92
	applicationRuleConfidence = 0.90
	followupRuleConfidence    = 0.88
)

// isSpamOrSystem applies the blocklist with the allowlist override.
func isSpamOrSystem(text string) bool {
	lower := strings.ToLower(text)

	blocked := false
	for _, phrase := range spamBlocklist {
		if strings.Contains(lower, phrase) {
			blocked = true
			break
		}
	}
	if !blocked {
		return false
	}

	// Conservative toward not losing real leads.
	for _, phrase := range propertyAllowlist {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	return true
}

// matchFastPath returns a deterministic intent match, if any. The followup
// path requires prior thread context: a first contact asking for status
// makes no sense and such text usually means something else.
func matchFastPath(text string, hasContext bool) (domain.Intent, float64, bool) {
	switch {
	case viewingPattern.MatchString(text):
		return domain.IntentViewingRequest, viewingRuleConfidence, true
	case applicationPattern.MatchString(text):
		return domain.IntentApplicationProcess, applicationRuleConfidence, true
	case hasContext && followupPattern.MatchString(text):
		return domain.IntentStatusFollowup, followupRuleConfidence, true
	}
	return domain.IntentOther, 0, false
}

var wantsAlternativesCues = []string{
	"alternative",
	"andere wohnung",
	"andere objekte",
	"ähnliche wohnung",
	"other listings",
	"similar propert",
	"something else",
	"anything else available",
	"weitere angebote",
}

var previousPropertyCues = []string{
	"die wohnung von",
	"letzte besichtigung",
	"wir hatten besprochen",
	"ihre anzeige vom",
	"previous listing",
	"the apartment we discussed",
	"as discussed",
	"wie besprochen",
	"bei unserem letzten",
}

// detectEntityFlags computes the two deterministic boolean entities.
func detectEntityFlags(text string) (wantsAlternatives, refersToPrevious bool) {
	lower := strings.ToLower(text)
	for _, cue := range wantsAlternativesCues {
		if strings.Contains(lower, cue) {
			wantsAlternatives = true
			break
		}
	}
	for _, cue := range previousPropertyCues {
		if strings.Contains(lower, cue) {
			refersToPrevious = true
			break
		}
	}
	return
}
