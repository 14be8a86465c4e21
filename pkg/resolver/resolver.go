// Package resolver maps raw OCR-extracted player-name strings to canonical
// roster identities: exact match, then nickname match, then fuzzy match
// against normalized, confusable-folded strings. It is pure and stateless
// given a RosterSnapshot, so it is safe to call concurrently from the bot
// worker and from review-time corrections.
package resolver

import "strings"

// RosterEntry is the subset of a player's roster row the resolver needs.
type RosterEntry struct {
	CanonicalName string
	Nicknames     []string
}

// RosterSnapshot is an immutable view of one guild's roster at a point in
// time.
type RosterSnapshot struct {
	Players []RosterEntry
}

// Resolution is the outcome of resolving one raw OCR string.
type Resolution struct {
	CanonicalName string
	IsRosterMember bool
}

// Resolve tries exact match, then nickname match, then fuzzy match,
// returning at the first hit.
func Resolve(raw string, roster RosterSnapshot) Resolution {
	if hit, ok := resolveExact(raw, roster); ok {
		return hit
	}
	if hit, ok := resolveNickname(raw, roster); ok {
		return hit
	}
	if hit, ok := resolveFuzzy(raw, roster); ok {
		return hit
	}
	return Resolution{CanonicalName: raw, IsRosterMember: false}
}

func resolveExact(raw string, roster RosterSnapshot) (Resolution, bool) {
	for _, p := range roster.Players {
		if strings.EqualFold(raw, p.CanonicalName) {
			return Resolution{CanonicalName: p.CanonicalName, IsRosterMember: true}, true
		}
	}
	return Resolution{}, false
}

// longestIdentifier returns the longest of a player's canonical name and
// nicknames, used as the ambiguity tie-breaker among nickname candidates.
func longestIdentifier(p RosterEntry) int {
	longest := len(p.CanonicalName)
	for _, n := range p.Nicknames {
		if len(n) > longest {
			longest = len(n)
		}
	}
	return longest
}

func resolveNickname(raw string, roster RosterSnapshot) (Resolution, bool) {
	var candidates []RosterEntry
	for _, p := range roster.Players {
		for _, n := range p.Nicknames {
			if strings.EqualFold(raw, n) {
				candidates = append(candidates, p)
				break
			}
		}
	}
	if len(candidates) == 1 {
		return Resolution{CanonicalName: candidates[0].CanonicalName, IsRosterMember: true}, true
	}
	if len(candidates) == 0 {
		return Resolution{}, false
	}

	// Ambiguous: narrow to whichever candidate(s) have the longest
	// canonical name or nickname, then tie-break lexicographically.
	maxLen := 0
	for _, c := range candidates {
		if l := longestIdentifier(c); l > maxLen {
			maxLen = l
		}
	}
	var longest []RosterEntry
	for _, c := range candidates {
		if longestIdentifier(c) == maxLen {
			longest = append(longest, c)
		}
	}
	best := longest[0]
	stillAmbiguous := false
	for _, c := range longest[1:] {
		if c.CanonicalName < best.CanonicalName {
			best = c
		} else if c.CanonicalName == best.CanonicalName {
			stillAmbiguous = true
		}
	}
	if stillAmbiguous {
		return Resolution{CanonicalName: raw, IsRosterMember: false}, true
	}
	return Resolution{CanonicalName: best.CanonicalName, IsRosterMember: true}, true
}
