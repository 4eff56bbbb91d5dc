package matcher

import "strings"

// Settings is the configuration input that drives matcher construction
type Settings struct {
	// CommentHeader is a comma-separated list of comment identifiers
	CommentHeader string
}

// DefaultCommentHeader is used when no identifiers are configured
const DefaultCommentHeader = "dataview,dv"

// State holds the matchers derived from Settings.
// It is rebuilt whenever the settings change and read-only otherwise.
type State struct {
	Identifiers []string
	Matchers    []*Matcher
}

// PrepareState derives a State from settings
func PrepareState(settings Settings) *State {
	ids := ParseIdentifiers(settings.CommentHeader)
	if len(ids) == 0 {
		ids = ParseIdentifiers(DefaultCommentHeader)
	}
	return &State{
		Identifiers: ids,
		Matchers:    Build(ids),
	}
}

// Build creates one Matcher per identifier and syntax, identifier-major
func Build(ids []string) []*Matcher {
	matchers := make([]*Matcher, 0, len(ids)*len(affixes))
	for _, id := range ids {
		for _, a := range affixes {
			matchers = append(matchers, New(id, a.syntax))
		}
	}
	return matchers
}

// ParseIdentifiers splits a comma-separated identifier list
func ParseIdentifiers(csv string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(csv, ",") {
		id := strings.TrimSpace(part)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// MatchHeader returns the first matcher whose header test accepts line
func (s *State) MatchHeader(line string) (*Matcher, bool) {
	for _, m := range s.Matchers {
		if m.TestHeader(line) {
			return m, true
		}
	}
	return nil, false
}
