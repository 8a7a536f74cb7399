package services

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Term extraction scans recent conversation messages for a candidate amount,
// timeline, and description to pre-fill the escrow proposal form. It is a
// best-effort convenience: the proposer always confirms or edits the draft,
// and the extracted amount is never trusted as the transaction amount.

var (
	amountPattern   = regexp.MustCompile(`\$\s?(\d+(?:,\d{3})*(?:\.\d+)?)\s*([kKmM])?`)
	timelinePattern = regexp.MustCompile(`(?i)\b(\d+)\s*(day|week|month)s?\b`)
	descForPattern  = regexp.MustCompile(`(?i)\bfor\s+(.{3,120})`)
)

// TermDraft is the pre-filled escrow proposal extracted from a conversation.
// Zero values mean "nothing found".
type TermDraft struct {
	Amount      decimal.Decimal `json:"amount"`
	AmountFound bool            `json:"amount_found"`
	Timeline    string          `json:"timeline"`
	Description string          `json:"description"`
}

// ParseEscrowTerms extracts a draft from messages ordered oldest first. The
// most recent match wins for each field.
func ParseEscrowTerms(messages []string) TermDraft {
	var draft TermDraft
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if !draft.AmountFound {
			if amt, ok := parseAmount(msg); ok {
				draft.Amount = amt
				draft.AmountFound = true
			}
		}
		if draft.Timeline == "" {
			if m := timelinePattern.FindStringSubmatch(msg); m != nil {
				unit := strings.ToLower(m[2])
				if m[1] != "1" {
					unit += "s"
				}
				draft.Timeline = m[1] + " " + unit
			}
		}
		if draft.Description == "" {
			draft.Description = parseDescription(msg)
		}
		if draft.AmountFound && draft.Timeline != "" && draft.Description != "" {
			break
		}
	}
	return draft
}

func parseAmount(msg string) (decimal.Decimal, bool) {
	m := amountPattern.FindStringSubmatch(msg)
	if m == nil {
		return decimal.Zero, false
	}
	raw := strings.ReplaceAll(m[1], ",", "")
	amt, err := decimal.NewFromString(raw)
	if err != nil || !amt.IsPositive() {
		return decimal.Zero, false
	}
	switch strings.ToLower(m[2]) {
	case "k":
		amt = amt.Mul(decimal.NewFromInt(1000))
	case "m":
		amt = amt.Mul(decimal.NewFromInt(1000000))
	}
	return amt, true
}

// parseDescription takes the text after "for " or, failing that, after the
// first ":".
func parseDescription(msg string) string {
	if m := descForPattern.FindStringSubmatch(msg); m != nil {
		return strings.TrimSpace(strings.TrimRight(m[1], ".!?"))
	}
	if idx := strings.Index(msg, ":"); idx >= 0 && idx+1 < len(msg) {
		desc := strings.TrimSpace(msg[idx+1:])
		if len(desc) >= 3 {
			return desc
		}
	}
	return ""
}
