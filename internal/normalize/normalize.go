// Package normalize parses and repairs raw provider text into canonical
// analysis records. Providers differ in how strictly they honor the JSON
// schema: some wrap output in markdown fences, some echo wrong timestamps,
// some drift in categorical wording ("Team A" vs "A", "passing" vs "pass").
// The normalizer absorbs all of that; structural problems it cannot repair
// surface as a ValidationFailure so the dispatcher can retry.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/matchlens/analysis-worker/internal/models"
)

// ValidationFailure is returned when a provider response parses as JSON but
// lacks required structure after coercion.
type ValidationFailure struct {
	Reason string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("response validation failed: %s", e.Reason)
}

// Vocabularies for categorical fields. Values outside a vocabulary coerce to
// "unknown" rather than failing the record.
var (
	teamVocab  = newVocab("A", "B")
	eventVocab = newVocab(
		"pass", "shot", "dribble", "tackle", "interception",
		"clearance", "duel", "goal", "set_piece", "transition", "none",
	)
	scanQualityVocab = newVocab("good", "average", "poor")
	headAngleVocab   = newVocab("left", "right", "backward", "forward")
	riskVocab        = newVocab("low", "medium", "high")
	passDirVocab     = newVocab("forward", "diagonal", "lateral", "backward")
	passSuccessVocab = newVocab("successful", "turnover")
	dribbleVocab     = newVocab("beaten", "failed")
	shotDirVocab     = newVocab("top_corner", "bottom_corner", "central", "wide")
	execQualityVocab = newVocab("excellent", "good", "average", "poor")
	ballLossVocab    = newVocab("wrong_decision", "poor_execution", "none")
	indexVocab       = newVocab("high", "medium", "low")
	awarenessVocab   = newVocab("excellent", "good", "average", "poor")
)

// synonyms maps drifting provider wording onto vocabulary values. Keys are
// lowercase. Extended as real payload drift is observed.
var synonyms = map[string]string{
	"team a":        "A",
	"team b":        "B",
	"a":             "A",
	"b":             "B",
	"passing":       "pass",
	"shooting":      "shot",
	"shot on goal":  "shot",
	"dribbling":     "dribble",
	"tackling":      "tackle",
	"intercept":     "interception",
	"clear":         "clearance",
	"set piece":     "set_piece",
	"setpiece":      "set_piece",
	"no event":      "none",
	"nothing":       "none",
	"succeeded":     "successful",
	"success":       "successful",
	"lost":          "turnover",
	"fwd":           "forward",
	"back":          "backward",
	"side":          "lateral",
	"center":        "central",
	"centre":        "central",
	"top corner":    "top_corner",
	"bottom corner": "bottom_corner",
}

type vocab map[string]struct{}

func newVocab(values ...string) vocab {
	v := make(vocab, len(values))
	for _, s := range values {
		v[s] = struct{}{}
	}
	return v
}

// coerce maps a raw categorical value into the vocabulary, case-insensitively
// and through the synonym table. Anything unmatched becomes "unknown".
func coerce(raw string, v vocab) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "unknown"
	}
	if _, ok := v[s]; ok {
		return s
	}
	lower := strings.ToLower(s)
	if _, ok := v[lower]; ok {
		return lower
	}
	if syn, ok := synonyms[lower]; ok {
		if _, ok := v[syn]; ok {
			return syn
		}
	}
	return "unknown"
}

// rawRecord mirrors the provider JSON loosely; everything is optional at
// this stage.
type rawRecord struct {
	Timestamp float64 `json:"timestamp"`
	Players   []struct {
		ID          string    `json:"id"`
		Team        string    `json:"team"`
		ShirtNumber string    `json:"shirt_number"`
		Position    string    `json:"position"`
		Role        string    `json:"role"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"players"`
	Ball *struct {
		Visible     bool      `json:"visible"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"ball"`
	Event           *string `json:"event"`
	TacticalContext string  `json:"tactical_context"`
	ScanMetrics     *struct {
		ScanFrequency     string `json:"scan_frequency"`
		ScanQuality       string `json:"scan_quality"`
		PreReceptionScans string `json:"pre_reception_scans"`
		HeadMovementAngle string `json:"head_movement_angle"`
	} `json:"scan_metrics"`
	DecisionIntelligence *struct {
		BestOption   string `json:"best_option"`
		SimpleOption string `json:"simple_option"`
		RiskLevel    string `json:"risk_level"`
		DecisionTime string `json:"decision_time"`
		ReactionTime string `json:"reaction_time"`
	} `json:"decision_intelligence"`
	TechnicalExecution *struct {
		PassDirection          string `json:"pass_direction"`
		PassSuccess            string `json:"pass_success"`
		DribblingSuccess       string `json:"dribbling_success"`
		ShotDirection          string `json:"shot_direction"`
		ExecutionQuality       string `json:"execution_quality"`
		BallLossClassification string `json:"ball_loss_classification"`
	} `json:"technical_execution"`
	OffBallIntelligence *struct {
		AvailabilityIndex           string `json:"availability_index"`
		ProgressiveOpportunityIndex string `json:"progressive_opportunity_index"`
		SpatialAwareness            string `json:"spatial_awareness"`
		TSXCognitiveIndex           string `json:"tsx_cognitive_index"`
	} `json:"off_ball_intelligence"`
	FormationAnalysis *struct {
		TeamAFormation    string `json:"team_a_formation"`
		TeamBFormation    string `json:"team_b_formation"`
		PressingStructure string `json:"pressing_structure"`
		BuildUpPatterns   string `json:"build_up_patterns"`
	} `json:"formation_analysis"`
	TacticalNotes      string `json:"tactical_notes"`
	PerformanceInsight string `json:"performance_insight"`
}

// Record normalizes provider text that represents a single analysis,
// overwriting the record's timestamp with the requested one.
func Record(raw string, timestamp float64) (models.AnalysisRecord, error) {
	recs, err := Records(raw, []float64{timestamp})
	if err != nil {
		return models.AnalysisRecord{}, err
	}
	return recs[0], nil
}

// Records normalizes provider text that may represent one record or an
// array of records (whole-video multimodal mode). timestamps supplies the
// requested timestamp per position; when the provider returns more records
// than requested timestamps, the record's own timestamp is kept as a last
// resort.
func Records(raw string, timestamps []float64) ([]models.AnalysisRecord, error) {
	body := StripCodeFence(raw)
	if strings.TrimSpace(body) == "" {
		return nil, &ValidationFailure{Reason: "empty response body"}
	}

	var rawRecs []rawRecord
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &rawRecs); err != nil {
			return nil, &ValidationFailure{Reason: fmt.Sprintf("invalid JSON array: %v", err)}
		}
	} else {
		var one rawRecord
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, &ValidationFailure{Reason: fmt.Sprintf("invalid JSON object: %v", err)}
		}
		rawRecs = []rawRecord{one}
	}
	if len(rawRecs) == 0 {
		return nil, &ValidationFailure{Reason: "empty record array"}
	}

	out := make([]models.AnalysisRecord, 0, len(rawRecs))
	for i, rr := range rawRecs {
		ts := rr.Timestamp
		if i < len(timestamps) {
			ts = timestamps[i]
		}
		rec, err := buildRecord(rr, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func buildRecord(rr rawRecord, timestamp float64) (models.AnalysisRecord, error) {
	if rr.Ball == nil {
		return models.AnalysisRecord{}, &ValidationFailure{Reason: "missing ball object"}
	}
	if rr.Event == nil {
		return models.AnalysisRecord{}, &ValidationFailure{Reason: "missing event field"}
	}
	if rr.Players == nil {
		return models.AnalysisRecord{}, &ValidationFailure{Reason: "missing players list"}
	}

	players := make([]models.Player, 0, len(rr.Players))
	for i, p := range rr.Players {
		if p.Coordinates != nil && len(p.Coordinates) != 2 {
			return models.AnalysisRecord{}, &ValidationFailure{
				Reason: fmt.Sprintf("player %d has malformed coordinates (%d values)", i, len(p.Coordinates)),
			}
		}
		id := p.ID
		if id == "" {
			id = "unknown"
		}
		players = append(players, models.Player{
			ID:          id,
			Team:        coerce(p.Team, teamVocab),
			ShirtNumber: p.ShirtNumber,
			Position:    p.Position,
			Role:        p.Role,
			Coordinates: p.Coordinates,
		})
	}

	ball := models.Ball{Visible: rr.Ball.Visible}
	if rr.Ball.Visible {
		if len(rr.Ball.Coordinates) == 2 {
			ball.Coordinates = rr.Ball.Coordinates
		} else {
			// Visible without coordinates is wording drift, not a hard
			// failure: keep visibility, drop the location.
			ball.Coordinates = nil
		}
	}

	rec := models.AnalysisRecord{
		Timestamp:          timestamp,
		Players:            players,
		Ball:               ball,
		Event:              coerce(*rr.Event, eventVocab),
		TacticalContext:    rr.TacticalContext,
		TacticalNotes:      rr.TacticalNotes,
		PerformanceInsight: rr.PerformanceInsight,
	}

	if sm := rr.ScanMetrics; sm != nil {
		rec.ScanMetrics = &models.ScanMetrics{
			ScanFrequency:     orUnknown(sm.ScanFrequency),
			ScanQuality:       coerce(sm.ScanQuality, scanQualityVocab),
			PreReceptionScans: orUnknown(sm.PreReceptionScans),
			HeadMovementAngle: coerce(sm.HeadMovementAngle, headAngleVocab),
		}
	}
	if di := rr.DecisionIntelligence; di != nil {
		rec.DecisionIntelligence = &models.DecisionIntelligence{
			BestOption:   orUnknown(di.BestOption),
			SimpleOption: orUnknown(di.SimpleOption),
			RiskLevel:    coerce(di.RiskLevel, riskVocab),
			DecisionTime: orUnknown(di.DecisionTime),
			ReactionTime: orUnknown(di.ReactionTime),
		}
	}
	if te := rr.TechnicalExecution; te != nil {
		rec.TechnicalExecution = &models.TechnicalExecution{
			PassDirection:          coerce(te.PassDirection, passDirVocab),
			PassSuccess:            coerce(te.PassSuccess, passSuccessVocab),
			DribblingSuccess:       coerce(te.DribblingSuccess, dribbleVocab),
			ShotDirection:          coerce(te.ShotDirection, shotDirVocab),
			ExecutionQuality:       coerce(te.ExecutionQuality, execQualityVocab),
			BallLossClassification: coerce(te.BallLossClassification, ballLossVocab),
		}
	}
	if ob := rr.OffBallIntelligence; ob != nil {
		rec.OffBallIntelligence = &models.OffBallIntelligence{
			AvailabilityIndex:           coerce(ob.AvailabilityIndex, indexVocab),
			ProgressiveOpportunityIndex: coerce(ob.ProgressiveOpportunityIndex, indexVocab),
			SpatialAwareness:            coerce(ob.SpatialAwareness, awarenessVocab),
			TSXCognitiveIndex:           orUnknown(ob.TSXCognitiveIndex),
		}
	}
	if fa := rr.FormationAnalysis; fa != nil {
		rec.FormationAnalysis = &models.FormationAnalysis{
			TeamAFormation:    orUnknown(fa.TeamAFormation),
			TeamBFormation:    orUnknown(fa.TeamBFormation),
			PressingStructure: orUnknown(fa.PressingStructure),
			BuildUpPatterns:   orUnknown(fa.BuildUpPatterns),
		}
	}

	return rec, nil
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

// StripCodeFence removes a leading/trailing markdown code fence wrapper if
// present. Providers occasionally wrap JSON output in ```json fences despite
// instructions not to.
func StripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}
