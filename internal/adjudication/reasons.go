package adjudication

// Reason names why a scanned sheet needs a human decision.
type Reason string

const (
	ReasonUninterpretableBallot Reason = "UninterpretableBallot"
	ReasonMarginalMark          Reason = "MarginalMark"
	ReasonOvervote              Reason = "Overvote"
	ReasonUndervote             Reason = "Undervote"
	ReasonWriteIn               Reason = "WriteIn"
	ReasonBlankBallot           Reason = "BlankBallot"
)

// Known reports whether r is one of the reasons the scan service emits.
func (r Reason) Known() bool {
	switch r {
	case ReasonUninterpretableBallot, ReasonMarginalMark, ReasonOvervote,
		ReasonUndervote, ReasonWriteIn, ReasonBlankBallot:
		return true
	}
	return false
}

// ReasonInfo is one adjudication finding on one side of a sheet. Overvote and
// Undervote carry ContestID, Expected, and the detected OptionIDs. MarginalMark
// and WriteIn carry ContestID and a single OptionID.
type ReasonInfo struct {
	Type      Reason   `json:"type"`
	ContestID string   `json:"contestId,omitempty"`
	OptionIDs []string `json:"optionIds,omitempty"`
	OptionID  string   `json:"optionId,omitempty"`
	Expected  int      `json:"expected,omitempty"`
}

// Overvote builds an overvote finding for contestID.
func Overvote(contestID string, expected int, optionIDs ...string) ReasonInfo {
	return ReasonInfo{Type: ReasonOvervote, ContestID: contestID, Expected: expected, OptionIDs: optionIDs}
}

// Undervote builds an undervote finding for contestID.
func Undervote(contestID string, expected int, optionIDs ...string) ReasonInfo {
	return ReasonInfo{Type: ReasonUndervote, ContestID: contestID, Expected: expected, OptionIDs: optionIDs}
}

// Blank builds a blank-ballot finding.
func Blank() ReasonInfo {
	return ReasonInfo{Type: ReasonBlankBallot}
}

// IsBlank reports whether any reason is BlankBallot.
func IsBlank(reasons []ReasonInfo) bool {
	for _, r := range reasons {
		if r.Type == ReasonBlankBallot {
			return true
		}
	}
	return false
}

// OvervotedContests returns the distinct contest IDs referenced by Overvote
// reasons in first-seen order.
func OvervotedContests(reasons []ReasonInfo) []string {
	return distinctContests(reasons, func(r ReasonInfo) bool {
		return r.Type == ReasonOvervote
	})
}

// UndervotedContests splits Undervote reasons into contests with no marks at
// all and contests where fewer than the allowed number were marked.
func UndervotedContests(reasons []ReasonInfo) (blank, partial []string) {
	blank = distinctContests(reasons, func(r ReasonInfo) bool {
		return r.Type == ReasonUndervote && len(r.OptionIDs) == 0
	})
	partial = distinctContests(reasons, func(r ReasonInfo) bool {
		return r.Type == ReasonUndervote && len(r.OptionIDs) > 0
	})
	return blank, partial
}

// FilterEnabled keeps only the reasons whose type appears in enabled.
func FilterEnabled(reasons []ReasonInfo, enabled []Reason) []ReasonInfo {
	if len(reasons) == 0 || len(enabled) == 0 {
		return nil
	}
	allowed := make(map[Reason]struct{}, len(enabled))
	for _, r := range enabled {
		allowed[r] = struct{}{}
	}
	out := make([]ReasonInfo, 0, len(reasons))
	for _, r := range reasons {
		if _, ok := allowed[r.Type]; ok {
			out = append(out, r)
		}
	}
	return out
}

func distinctContests(reasons []ReasonInfo, match func(ReasonInfo) bool) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, r := range reasons {
		if !match(r) || r.ContestID == "" {
			continue
		}
		if _, ok := seen[r.ContestID]; ok {
			continue
		}
		seen[r.ContestID] = struct{}{}
		out = append(out, r.ContestID)
	}
	return out
}
