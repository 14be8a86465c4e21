package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func roster(entries ...RosterEntry) RosterSnapshot {
	return RosterSnapshot{Players: entries}
}

func TestResolveExactCaseInsensitive(t *testing.T) {
	r := roster(RosterEntry{CanonicalName: "Alpha"})
	res := Resolve("alpha", r)
	assert.Equal(t, "Alpha", res.CanonicalName)
	assert.True(t, res.IsRosterMember)
}

func TestResolveNicknameSingleMatch(t *testing.T) {
	r := roster(RosterEntry{CanonicalName: "Alpha", Nicknames: []string{"Alph"}})
	res := Resolve("alph", r)
	assert.Equal(t, "Alpha", res.CanonicalName)
	assert.True(t, res.IsRosterMember)
}

func TestResolveNicknameAmbiguousPicksLongestIdentifier(t *testing.T) {
	r := roster(
		RosterEntry{CanonicalName: "Bob", Nicknames: []string{"Ace"}},
		RosterEntry{CanonicalName: "Alexandra", Nicknames: []string{"Ace"}},
	)
	res := Resolve("ace", r)
	// Both players share the nickname "Ace"; Alexandra's canonical name is
	// the longest identifier among the candidates, so she wins.
	assert.Equal(t, "Alexandra", res.CanonicalName)
}

func TestResolveNicknameAmbiguousSameNickname(t *testing.T) {
	r := roster(
		RosterEntry{CanonicalName: "Bob", Nicknames: []string{"Ace"}},
		RosterEntry{CanonicalName: "Alice", Nicknames: []string{"Ace"}},
	)
	res := Resolve("ace", r)
	// Both players carry the nickname "Ace", so the longest identifier
	// decides: "Alice" (5 letters) beats "Bob" (3) before any lexicographic
	// tie-break is needed.
	assert.Equal(t, "Alice", res.CanonicalName)
	assert.True(t, res.IsRosterMember)
}

func TestResolveFuzzyConfusables(t *testing.T) {
	// "Wi11ow" -> "Willow" via confusable folding.
	r := roster(RosterEntry{CanonicalName: "Willow"})
	res := Resolve("Wi11ow", r)
	assert.Equal(t, "Willow", res.CanonicalName)
	assert.True(t, res.IsRosterMember)
}

func TestResolveFuzzyTooFarIsMiss(t *testing.T) {
	r := roster(RosterEntry{CanonicalName: "Willow"})
	res := Resolve("Zzzzzz", r)
	assert.Equal(t, "Zzzzzz", res.CanonicalName)
	assert.False(t, res.IsRosterMember)
}

func TestResolveFuzzyAmbiguousIsMiss(t *testing.T) {
	r := roster(RosterEntry{CanonicalName: "Alan"}, RosterEntry{CanonicalName: "Alun"})
	res := Resolve("Alen", r)
	assert.Equal(t, "Alen", res.CanonicalName)
	assert.False(t, res.IsRosterMember)
}

func TestResolveMissReturnsRawUnmodified(t *testing.T) {
	r := roster(RosterEntry{CanonicalName: "Alpha"})
	res := Resolve("Completely Different Name", r)
	assert.Equal(t, "Completely Different Name", res.CanonicalName)
	assert.False(t, res.IsRosterMember)
}

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 0, editDistance("abc", "abc"))
	assert.Equal(t, 1, editDistance("abc", "abd"))
	assert.Equal(t, 3, editDistance("", "abc"))
}

func TestFuzzyThreshold(t *testing.T) {
	assert.Equal(t, 0, fuzzyThreshold(3))
	assert.Equal(t, 1, fuzzyThreshold(4))
	assert.Equal(t, 2, fuzzyThreshold(8))
	assert.Equal(t, 2, fuzzyThreshold(20))
}
