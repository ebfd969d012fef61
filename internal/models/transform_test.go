package models

import "testing"

func TestInferFormation(t *testing.T) {
	tests := []struct {
		name    string
		players []Player
		want    string
	}{
		{"empty", nil, "Unknown"},
		{
			"full three lines",
			[]Player{
				{Position: "left defensive"},
				{Position: "central defensive"},
				{Position: "defensive right"},
				{Position: "central midfield"},
				{Position: "left midfield"},
				{Position: "attacking central"},
			},
			"3-2-1",
		},
		{
			"no attackers",
			[]Player{
				{Position: "central defensive"},
				{Position: "central midfield"},
				{Position: "left midfield"},
			},
			"1-2",
		},
		{
			"unrecognized positions",
			[]Player{
				{Position: "wide"},
				{Position: "deep"},
				{Position: "high"},
			},
			"3-player formation",
		},
		{"two unrecognized", []Player{{Position: "wide"}, {Position: "deep"}}, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferFormation(tt.players); got != tt.want {
				t.Errorf("InferFormation = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	rec := AnalysisRecord{
		Timestamp: 4.0,
		Players: []Player{
			{ID: "a1", Team: "A", Position: "central defensive"},
			{ID: "a2", Team: "A", Position: "central midfield"},
			{ID: "b1", Team: "B", Position: "attacking central"},
			{ID: "x1", Team: "unknown", Position: "wide"},
		},
		Ball:          Ball{Visible: true, Coordinates: []float64{0.25, 0.5}},
		Event:         "pass",
		TacticalNotes: "build-up through the middle",
	}

	got := Summarize(rec)
	if got.Timestamp != 4.0 {
		t.Errorf("timestamp = %v", got.Timestamp)
	}
	if got.Event != "pass" {
		t.Errorf("event = %q", got.Event)
	}
	if got.BallPosition != "0.25, 0.5" {
		t.Errorf("ball position = %q", got.BallPosition)
	}
	if got.PlayersDetected != 4 {
		t.Errorf("players detected = %d", got.PlayersDetected)
	}
	if got.TeamAShape != "1-1" {
		t.Errorf("team A shape = %q", got.TeamAShape)
	}
	if got.TacticalNotes != "build-up through the middle" {
		t.Errorf("tactical notes = %q", got.TacticalNotes)
	}
}

func TestSummarizeBallNotVisible(t *testing.T) {
	got := Summarize(FallbackRecord(2.0, "quota exceeded"))
	if got.BallPosition != "Not visible" {
		t.Errorf("ball position = %q", got.BallPosition)
	}
	if got.PlayersDetected != 0 {
		t.Errorf("players detected = %d", got.PlayersDetected)
	}
	if got.TacticalNotes != "quota exceeded" {
		t.Errorf("tactical notes = %q", got.TacticalNotes)
	}
}
