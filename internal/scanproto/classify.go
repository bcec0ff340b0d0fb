package scanproto

import (
	"ballotscan/internal/adjudication"
	"ballotscan/internal/ballot"
	"ballotscan/internal/devicestatus"
)

// classifySheet maps a pending sheet to a rejection reason or to the enabled
// review findings across both sides. Rejections are checked across both pages
// in precedence order: unreadable, test mode, election hash, precinct.
func classifySheet(sheet *devicestatus.Sheet) (ballot.RejectionReason, []adjudication.ReasonInfo) {
	pages := sheet.Pages()
	anyPage := func(types ...devicestatus.PageType) bool {
		for _, page := range pages {
			for _, t := range types {
				if page.Type == t {
					return true
				}
			}
		}
		return false
	}

	switch {
	case anyPage(devicestatus.PageUnreadable, devicestatus.PageUninterpretedHmpb):
		return ballot.RejectUnreadable, nil
	case anyPage(devicestatus.PageInvalidTestMode):
		return ballot.RejectInvalidTestMode, nil
	case anyPage(devicestatus.PageInvalidElectionHash):
		return ballot.RejectInvalidElectionHash, nil
	case anyPage(devicestatus.PageInvalidPrecinct):
		return ballot.RejectInvalidPrecinct, nil
	}

	var reasons []adjudication.ReasonInfo
	for _, page := range pages {
		reasons = append(reasons, page.EnabledReasons()...)
	}
	return ballot.RejectNone, reasons
}
