package botworker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocap-kart/warbot/pkg/apierr"
)

func TestParsePlayerScores(t *testing.T) {
	entries, err := ParsePlayerScores("Alpha:95, Beta:80,Gamma : 70")
	require.NoError(t, err)
	require.Equal(t, []ScoreEntry{
		{Name: "Alpha", Score: 95},
		{Name: "Beta", Score: 80},
		{Name: "Gamma", Score: 70},
	}, entries)
}

func TestParsePlayerScoresRoundTrip(t *testing.T) {
	entries, err := ParsePlayerScores("Alpha:1,Beta:2")
	require.NoError(t, err)
	assert.Equal(t, "Alpha:1,Beta:2", RenderPlayerScores(entries))
}

func TestParsePlayerScoresRejectsMissingColon(t *testing.T) {
	_, err := ParsePlayerScores("Alpha95")
	require.ErrorIs(t, err, apierr.ErrMalformedScores)
}

func TestParsePlayerScoresRejectsOutOfRange(t *testing.T) {
	_, err := ParsePlayerScores("Alpha:1000")
	require.ErrorIs(t, err, apierr.ErrMalformedScores)

	_, err = ParsePlayerScores("Alpha:-1")
	require.ErrorIs(t, err, apierr.ErrMalformedScores)
}

func TestParsePlayerScoresRejectsEmpty(t *testing.T) {
	_, err := ParsePlayerScores("")
	require.ErrorIs(t, err, apierr.ErrMalformedScores)
}
