package review

import (
	"strings"

	"github.com/this-is-us/civicd/config"
	"github.com/this-is-us/civicd/internal/store"
)

// Structural failure reasons, in the order they are checked. The first
// failure becomes the verification status reason.
const (
	ReasonWrongSource          = "wrong_source"
	ReasonWrongJurisdiction    = "wrong_jurisdiction"
	ReasonMissingBillNumber    = "missing_bill_number"
	ReasonMissingSession       = "missing_session"
	ReasonMissingChamber       = "missing_chamber"
	ReasonMissingTitle         = "missing_title"
	ReasonMissingSummaryOrText = "missing_summary_or_text"
	ReasonNoSponsor            = "no_wyoming_sponsor"

	// ReasonMismatchTopic is raised by the AI cross-check when the
	// assigned topics do not fit the bill text.
	ReasonMismatchTopic = "mismatch_topic"
)

// CheckStructural validates a civic item's record completeness. It is a
// pure function over the item, its sponsor count, and the review policy;
// the returned reasons keep the fixed check order.
func CheckStructural(item store.CivicItem, sponsorCount int, cfg config.ReviewConfig) []string {
	var issues []string

	if !allowedSource(item.Source, cfg.AllowedSources) {
		issues = append(issues, ReasonWrongSource)
	}
	if !strings.EqualFold(strings.TrimSpace(item.Jurisdiction), cfg.ExpectedJurisdiction) {
		issues = append(issues, ReasonWrongJurisdiction)
	}
	if strings.TrimSpace(item.BillNumber) == "" {
		issues = append(issues, ReasonMissingBillNumber)
	}
	if strings.TrimSpace(item.Session) == "" {
		issues = append(issues, ReasonMissingSession)
	}
	if strings.TrimSpace(item.Chamber) == "" {
		issues = append(issues, ReasonMissingChamber)
	}
	if strings.TrimSpace(item.Title) == "" {
		issues = append(issues, ReasonMissingTitle)
	}
	if strings.TrimSpace(item.Summary) == "" && strings.TrimSpace(item.FullText) == "" &&
		strings.TrimSpace(item.TextURL) == "" && strings.TrimSpace(item.AISummary) == "" {
		issues = append(issues, ReasonMissingSummaryOrText)
	}
	if sponsorCount == 0 {
		issues = append(issues, ReasonNoSponsor)
	}

	return issues
}

func allowedSource(source string, allowed []string) bool {
	source = strings.ToLower(strings.TrimSpace(source))
	for _, a := range allowed {
		if source == strings.ToLower(strings.TrimSpace(a)) {
			return true
		}
	}
	return false
}
