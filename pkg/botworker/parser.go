package botworker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ocap-kart/warbot/pkg/apierr"
)

// ScoreEntry is one Name:Score pair parsed from a player_scores argument.
type ScoreEntry struct {
	Name  string
	Score int
}

// ParsePlayerScores parses the `Name:Score[,Name:Score]*` grammar,
// whitespace insensitive around commas, colons required, Score an integer
// in 0..999.
func ParsePlayerScores(raw string) ([]ScoreEntry, error) {
	parts := strings.Split(raw, ",")
	out := make([]ScoreEntry, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.LastIndex(part, ":")
		if idx < 0 {
			return nil, apierr.ErrMalformedScores
		}
		name := strings.TrimSpace(part[:idx])
		scoreStr := strings.TrimSpace(part[idx+1:])
		if name == "" || scoreStr == "" {
			return nil, apierr.ErrMalformedScores
		}
		score, err := strconv.Atoi(scoreStr)
		if err != nil || score < 0 || score > 999 {
			return nil, apierr.ErrMalformedScores
		}
		out = append(out, ScoreEntry{Name: name, Score: score})
	}
	if len(out) == 0 {
		return nil, apierr.ErrMalformedScores
	}
	return out, nil
}

// RenderPlayerScores is ParsePlayerScores's inverse: parsing and
// re-rendering player_scores is the identity modulo whitespace.
func RenderPlayerScores(entries []ScoreEntry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s:%d", e.Name, e.Score)
	}
	return strings.Join(parts, ",")
}
