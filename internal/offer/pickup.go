package offer

import (
	"fmt"
	"sort"
	"time"
)

// ProposalStatus represents the state of a pickup proposal.
type ProposalStatus string

const (
	ProposalProposed  ProposalStatus = "proposed"
	ProposalAccepted  ProposalStatus = "accepted"
	ProposalDeclined  ProposalStatus = "declined"
	ProposalCancelled ProposalStatus = "cancelled"
)

// PickupProposal is a declared set of candidate dates and a time window
// for an in-person handoff. At most one proposal per offer is in the
// proposed state; superseded proposals are retained for audit.
type PickupProposal struct {
	ID           string         `json:"id"`
	OfferID      string         `json:"offerId"`
	ProposerID   string         `json:"proposerId"`
	Dates        []string       `json:"dates"`       // ISO dates, deduplicated ascending
	WindowStart  string         `json:"windowStart"` // "HH:MM", 24h clock
	WindowEnd    string         `json:"windowEnd"`
	Location     string         `json:"location"`
	Details      string         `json:"details,omitempty"`
	Status       ProposalStatus `json:"status"`
	SelectedDate string         `json:"selectedDate,omitempty"`
	SelectedTime string         `json:"selectedTime,omitempty"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// HasDate reports whether the given ISO date is among the candidates.
func (p *PickupProposal) HasDate(date string) bool {
	for _, d := range p.Dates {
		if d == date {
			return true
		}
	}
	return false
}

// InWindow reports whether a clock time falls inside [WindowStart, WindowEnd].
func (p *PickupProposal) InWindow(clock string) bool {
	t, err := parseClock(clock)
	if err != nil {
		return false
	}
	start, err := parseClock(p.WindowStart)
	if err != nil {
		return false
	}
	end, err := parseClock(p.WindowEnd)
	if err != nil {
		return false
	}
	return start <= t && t <= end
}

const isoDate = "2006-01-02"

// normalizeDates validates, deduplicates, and sorts candidate dates
// ascending. At least one date is required.
func normalizeDates(dates []string) ([]string, error) {
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: at least one candidate date required", ErrValidation)
	}
	seen := make(map[string]bool, len(dates))
	var out []string
	for _, d := range dates {
		if _, err := time.Parse(isoDate, d); err != nil {
			return nil, fmt.Errorf("%w: invalid date %q (want YYYY-MM-DD)", ErrValidation, d)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	// ISO dates sort correctly as strings
	sort.Strings(out)
	return out, nil
}

// unionDates merges new dates into an existing set, deduplicated and
// ascending. The existing set is never replaced, only extended.
func unionDates(existing, added []string) ([]string, error) {
	normalized, err := normalizeDates(added)
	if err != nil {
		return nil, err
	}
	merged := append(append([]string{}, existing...), normalized...)
	return normalizeDates(merged)
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid time %q (want HH:MM)", ErrValidation, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// validateWindow checks a [start, end] clock window for start < end.
func validateWindow(start, end string) error {
	s, err := parseClock(start)
	if err != nil {
		return err
	}
	e, err := parseClock(end)
	if err != nil {
		return err
	}
	if s >= e {
		return fmt.Errorf("%w: window start %s must be before end %s", ErrValidation, start, end)
	}
	return nil
}
