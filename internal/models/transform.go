package models

import (
	"fmt"
	"strings"
)

// InferFormation estimates a team's shape from individual player positions.
// Positions are free text from the provider ("left defensive", "central
// midfield", ...), so this is a zone-count heuristic, not a tracking model.
func InferFormation(players []Player) string {
	if len(players) == 0 {
		return "Unknown"
	}

	var defensive, midfield, attacking int
	for _, p := range players {
		pos := strings.ToLower(p.Position)
		switch {
		case strings.Contains(pos, "defensive"):
			defensive++
		case strings.Contains(pos, "midfield"):
			midfield++
		case strings.Contains(pos, "attacking"):
			attacking++
		}
	}

	switch {
	case defensive > 0 && midfield > 0 && attacking > 0:
		return fmt.Sprintf("%d-%d-%d", defensive, midfield, attacking)
	case defensive > 0 && midfield > 0:
		return fmt.Sprintf("%d-%d", defensive, midfield)
	case len(players) >= 3:
		return fmt.Sprintf("%d-player formation", len(players))
	default:
		return "Unknown"
	}
}

// Summarize condenses a canonical analysis record into the per-frame view
// returned to API callers.
func Summarize(rec AnalysisRecord) FrameSummary {
	var teamA, teamB []Player
	for _, p := range rec.Players {
		switch p.Team {
		case "A":
			teamA = append(teamA, p)
		case "B":
			teamB = append(teamB, p)
		}
	}

	ballPos := "Not visible"
	if rec.Ball.Visible && len(rec.Ball.Coordinates) >= 2 {
		ballPos = fmt.Sprintf("%g, %g", rec.Ball.Coordinates[0], rec.Ball.Coordinates[1])
	}

	return FrameSummary{
		Timestamp:       rec.Timestamp,
		Event:           rec.Event,
		BallPosition:    ballPos,
		PlayersDetected: len(rec.Players),
		TeamAShape:      InferFormation(teamA),
		TeamBShape:      InferFormation(teamB),
		TacticalNotes:   rec.TacticalNotes,
	}
}

// SummarizeAll maps Summarize over a batch, preserving order.
func SummarizeAll(recs []AnalysisRecord) []FrameSummary {
	out := make([]FrameSummary, len(recs))
	for i, rec := range recs {
		out[i] = Summarize(rec)
	}
	return out
}
