// Package models holds the core domain types shared across the data store,
// the bulk session pipeline, the name resolver, and the review API. Nothing
// in this package talks to a database or the network.
package models

import (
	"time"

	"github.com/ocap-kart/warbot/pkg/stats"
)

// MemberStatus is a player's standing within a guild's roster.
type MemberStatus string

const (
	StatusMember MemberStatus = "Member"
	StatusTrial  MemberStatus = "Trial"
	StatusAlly   MemberStatus = "Ally"
	StatusKicked MemberStatus = "Kicked"
)

// UnassignedTeam is the sentinel team name for a player with no team.
const UnassignedTeam = "Unassigned"

// Guild is a chat-platform tenant boundary. Every other row in the system
// carries a GuildID and no query may cross guilds.
type Guild struct {
	GuildID     string // external ID from the chat platform
	DisplayName string
	OCRChannel  string
	TeamNames   []string
	Active      bool
	CreatedAt   time.Time
}

// Player is a roster member of one guild.
type Player struct {
	ID            int64
	GuildID       string
	Name          string // canonical, unique per guild, case-sensitive
	Nicknames     []string
	Team          string
	MemberStatus  MemberStatus
	IsActive      bool
	TotalScore    int64
	TotalRaces    int64
	WarCount      stats.Decimal2
	LastWarDate   *time.Time
	CreatedAt     time.Time
}

// AverageScore returns total_score / war_count, or 0 if war_count is 0.
func (p Player) AverageScore() float64 {
	if p.WarCount == 0 {
		return 0
	}
	return float64(p.TotalScore) / p.WarCount.Float64()
}

// WarPlayer is one player's participation row within a War.
type WarPlayer struct {
	Name         string
	Score        int
	RacesPlayed  int
}

// War is one race session belonging to a guild.
type War struct {
	WarID     int64
	GuildID   string
	RaceCount int
	Timestamp time.Time
	Players   []WarPlayer
}

// TeamScore is the sum of all player scores in the war.
func (w War) TeamScore() int {
	total := 0
	for _, p := range w.Players {
		total += p.Score
	}
	return total
}

// BreakevenPerRace is the baseline per-race score a team is expected to
// clear; TeamDifferential measures actual performance against it.
const BreakevenPerRace = 41

// DefaultRaceCount is the fallback race count for a war or bulk result.
const DefaultRaceCount = 12

// TeamDifferential is team_score - 41*race_count*player_count.
func (w War) TeamDifferential() int {
	return w.TeamScore() - BreakevenPerRace*w.RaceCount*len(w.Players)
}

// Outcome classifies a war by its differential.
type Outcome string

const (
	OutcomeWon  Outcome = "won"
	OutcomeLost Outcome = "lost"
	OutcomeTied Outcome = "tied"
)

func (w War) Outcome() Outcome {
	switch d := w.TeamDifferential(); {
	case d > 0:
		return OutcomeWon
	case d < 0:
		return OutcomeLost
	default:
		return OutcomeTied
	}
}

// SessionStatus is the lifecycle state of a BulkSession.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionConfirmed SessionStatus = "confirmed"
	SessionCancelled SessionStatus = "cancelled"
	SessionExpired   SessionStatus = "expired"
)

// BulkSession is a pending (or resolved) review batch.
type BulkSession struct {
	Token         string
	GuildID       string
	CreatedByUser string
	Status        SessionStatus
	TotalImages   int
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// IsExpired reports whether the session's TTL has elapsed as of now.
func (s BulkSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ReviewStatus is the per-result reviewer decision within a session.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// DetectedPlayer is one OCR-extracted (or corrected) player row.
type DetectedPlayer struct {
	Name          string
	Score         int
	RawName       string
	IsRosterMember bool
	RacesPlayed   int
}

// BulkResult is one image's OCR output within a session.
type BulkResult struct {
	ResultID          int64
	SessionToken      string
	ImageFilename     string
	ImageURL          string
	DetectedPlayers   []DetectedPlayer
	ReviewStatus      ReviewStatus
	CorrectedPlayers  []DetectedPlayer // nil until a correction is submitted
	RaceCount         int
	MessageTimestamp  time.Time
}

// EffectivePlayers returns CorrectedPlayers if set, else DetectedPlayers.
func (r BulkResult) EffectivePlayers() []DetectedPlayer {
	if r.CorrectedPlayers != nil {
		return r.CorrectedPlayers
	}
	return r.DetectedPlayers
}

// BulkFailure is one image's OCR failure within a session.
type BulkFailure struct {
	FailureID        int64
	SessionToken     string
	ImageFilename    string
	ImageURL         string
	ErrorMessage     string
	MessageTimestamp time.Time
}
