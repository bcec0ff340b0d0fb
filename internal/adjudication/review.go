package adjudication

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Kind selects which review screen is shown.
type Kind string

const (
	KindOvervote  Kind = "overvote"
	KindBlank     Kind = "blank"
	KindUndervote Kind = "undervote"
	KindGeneric   Kind = "generic"
)

// Action is an operator choice offered on a review screen.
type Action string

const (
	// ActionReturnBallot is the implicit reject: the voter takes the sheet back.
	ActionReturnBallot Action = "return_ballot"
	// ActionAcceptWithErrors tabulates the sheet as it is.
	ActionAcceptWithErrors Action = "accept_with_errors"
)

const (
	truncateAbove = 5
	truncateTo    = 3
)

// Content is the copy and choices for a sheet awaiting a decision.
type Content struct {
	Kind     Kind     `json:"kind"`
	Title    string   `json:"title"`
	Body     []string `json:"body"`
	Confirm  string   `json:"confirm"`
	Contests []string `json:"contests,omitempty"`
	Actions  []Action `json:"actions"`
}

// Review builds the review screen for reasons. titles maps contest IDs to
// display names; IDs without a title are shown title-cased.
//
// Overvoted contests are listed whenever present, even if the sheet is also
// blank, then blank ballot, then undervotes, then a generic message.
func Review(reasons []ReasonInfo, titles map[string]string) Content {
	actions := []Action{ActionReturnBallot, ActionAcceptWithErrors}

	if over := OvervotedContests(reasons); len(over) > 0 {
		names := contestNames(over, titles)
		return Content{
			Kind:  KindOvervote,
			Title: "Too Many Votes",
			Body: []string{fmt.Sprintf("There are too many votes marked in the %s for: %s.",
				pluralize("contest", len(names)), toSentence(names))},
			Confirm:  fmt.Sprintf("Your votes in %d %s will not be counted.", len(names), pluralize("contest", len(names))),
			Contests: names,
			Actions:  actions,
		}
	}

	if IsBlank(reasons) {
		return Content{
			Kind:    KindBlank,
			Title:   "Review Your Ballot",
			Body:    []string{"No votes were found when scanning this ballot."},
			Confirm: "No votes will be counted from this ballot.",
			Actions: actions,
		}
	}

	if blank, partial := UndervotedContests(reasons); len(blank)+len(partial) > 0 {
		content := Content{Kind: KindUndervote, Title: "Review Your Ballot", Actions: actions}
		var confirm []string
		if len(blank) > 0 {
			names := contestNames(blank, titles)
			content.Body = append(content.Body, "No votes detected for: "+toSentence(truncate(names))+".")
			content.Contests = append(content.Contests, names...)
			confirm = append(confirm, fmt.Sprintf("You did not vote in %d %s.", len(names), pluralize("contest", len(names))))
		}
		if len(partial) > 0 {
			names := contestNames(partial, titles)
			content.Body = append(content.Body, "You may vote for more candidates in the contests for: "+toSentence(truncate(names))+".")
			content.Contests = append(content.Contests, names...)
			confirm = append(confirm, fmt.Sprintf("You can still vote for more candidates in %d %s.", len(names), pluralize("contest", len(names))))
		}
		content.Body = append(content.Body, "Your votes will count, even if you leave some blank.")
		content.Confirm = strings.Join(confirm, " ")
		return content
	}

	return Content{
		Kind:    KindGeneric,
		Title:   "Scanning Failed",
		Body:    []string{"There was a problem scanning this ballot. Remove the ballot, fix the issue, and scan it again."},
		Confirm: "No votes will be recorded for this ballot.",
		Actions: actions,
	}
}

func contestNames(ids []string, titles map[string]string) []string {
	names := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	caser := cases.Title(language.Und)
	for _, id := range ids {
		name := strings.TrimSpace(titles[id])
		if name == "" {
			name = caser.String(strings.NewReplacer("-", " ", "_", " ").Replace(id))
		}
		// Distinct contests can share a title across ballot styles.
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

func truncate(names []string) []string {
	if len(names) <= truncateAbove {
		return names
	}
	out := append([]string(nil), names[:truncateTo]...)
	rest := len(names) - truncateTo
	return append(out, fmt.Sprintf("%d more %s", rest, pluralize("contest", rest)))
}

func toSentence(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
}

func pluralize(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
