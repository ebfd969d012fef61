package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VideoSample is one timestamped frame extracted from a source video,
// compressed and ready for provider dispatch. Samples are produced once by
// the sampler and consumed exactly once by the dispatcher.
type VideoSample struct {
	Timestamp float64 `json:"timestamp"` // Seconds from start of video
	Image     []byte  `json:"-"`         // JPEG bytes
}

// Player is one detected player in a frame.
type Player struct {
	ID          string    `json:"id"`
	Team        string    `json:"team"` // "A", "B" or "unknown"
	ShirtNumber string    `json:"shirt_number,omitempty"`
	Position    string    `json:"position"`
	Role        string    `json:"role,omitempty"`
	Coordinates []float64 `json:"coordinates"`
}

// Ball is the detected ball location, if visible.
type Ball struct {
	Visible     bool      `json:"visible"`
	Coordinates []float64 `json:"coordinates,omitempty"`
}

// ScanMetrics captures head-scanning behaviour around ball reception.
type ScanMetrics struct {
	ScanFrequency     string `json:"scan_frequency"`
	ScanQuality       string `json:"scan_quality"` // "good", "average", "poor", "unknown"
	PreReceptionScans string `json:"pre_reception_scans"`
	HeadMovementAngle string `json:"head_movement_angle"` // "left", "right", "backward", "forward", "unknown"
}

// DecisionIntelligence captures on-ball decision quality.
type DecisionIntelligence struct {
	BestOption   string `json:"best_option"`
	SimpleOption string `json:"simple_option"`
	RiskLevel    string `json:"risk_level"` // "low", "medium", "high", "unknown"
	DecisionTime string `json:"decision_time"`
	ReactionTime string `json:"reaction_time"`
}

// TechnicalExecution captures execution quality of the current action.
type TechnicalExecution struct {
	PassDirection          string `json:"pass_direction"` // "forward", "diagonal", "lateral", "backward", "unknown"
	PassSuccess            string `json:"pass_success"`   // "successful", "turnover", "unknown"
	DribblingSuccess       string `json:"dribbling_success"`
	ShotDirection          string `json:"shot_direction"`
	ExecutionQuality       string `json:"execution_quality"`
	BallLossClassification string `json:"ball_loss_classification"`
}

// OffBallIntelligence captures positioning of players away from the ball.
type OffBallIntelligence struct {
	AvailabilityIndex           string `json:"availability_index"`
	ProgressiveOpportunityIndex string `json:"progressive_opportunity_index"`
	SpatialAwareness            string `json:"spatial_awareness"`
	TSXCognitiveIndex           string `json:"tsx_cognitive_index"`
}

// FormationAnalysis captures team-level shape observations.
type FormationAnalysis struct {
	TeamAFormation    string `json:"team_a_formation"`
	TeamBFormation    string `json:"team_b_formation"`
	PressingStructure string `json:"pressing_structure"`
	BuildUpPatterns   string `json:"build_up_patterns"`
}

// AnalysisRecord is the canonical per-frame analysis produced by the
// normalizer. The timestamp is always the one the caller requested, never
// the one echoed by the provider. IsFallback marks synthetic records
// substituted when real analysis could not be obtained.
type AnalysisRecord struct {
	Timestamp            float64               `json:"timestamp"`
	Players              []Player              `json:"players"`
	Ball                 Ball                  `json:"ball"`
	Event                string                `json:"event"`
	TacticalContext      string                `json:"tactical_context,omitempty"`
	ScanMetrics          *ScanMetrics          `json:"scan_metrics,omitempty"`
	DecisionIntelligence *DecisionIntelligence `json:"decision_intelligence,omitempty"`
	TechnicalExecution   *TechnicalExecution   `json:"technical_execution,omitempty"`
	OffBallIntelligence  *OffBallIntelligence  `json:"off_ball_intelligence,omitempty"`
	FormationAnalysis    *FormationAnalysis    `json:"formation_analysis,omitempty"`
	TacticalNotes        string                `json:"tactical_notes"`
	PerformanceInsight   string                `json:"performance_insight,omitempty"`
	IsFallback           bool                  `json:"is_fallback"`
}

// FallbackRecord builds the synthetic record substituted when a frame could
// not be analyzed. The note carries the reason so callers can distinguish
// quota aborts from ordinary failures.
func FallbackRecord(timestamp float64, note string) AnalysisRecord {
	if note == "" {
		note = "Analysis unavailable"
	}
	return AnalysisRecord{
		Timestamp:     timestamp,
		Players:       []Player{},
		Ball:          Ball{Visible: false},
		Event:         "unknown",
		TacticalNotes: note,
		IsFallback:    true,
	}
}

// FrameSummary is the condensed per-frame view returned to API callers.
type FrameSummary struct {
	Timestamp       float64 `json:"timestamp"`
	Event           string  `json:"event"`
	BallPosition    string  `json:"ball_position"` // "x, y" or "Not visible"
	PlayersDetected int     `json:"players_detected"`
	TeamAShape      string  `json:"team_a_shape"`
	TeamBShape      string  `json:"team_b_shape"`
	TacticalNotes   string  `json:"tactical_notes"`
}

// Batch completion statuses.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
)

// BatchResult is the outcome of dispatching one batch of samples: the full
// records in timestamp order plus the completion status. Status is partial
// only when the batch terminated early (quota exhaustion or a hard provider
// failure); individual units that exhausted their retries settle as fallback
// records inside a completed batch.
type BatchResult struct {
	Records         []AnalysisRecord `json:"records"`
	Total           int              `json:"total"`
	Status          string           `json:"status"`
	TerminatedEarly bool             `json:"terminated_early,omitempty"`
	TerminationKind string           `json:"termination_kind,omitempty"`
}

// AnalysisResponse is the API payload for one analysis invocation.
type AnalysisResponse struct {
	Frames      []FrameSummary `json:"frames"`
	TotalFrames int            `json:"total_frames"`
	Status      string         `json:"status"` // "completed" or "partial"
}

// AnalysisConfig holds per-request sampling parameters.
type AnalysisConfig struct {
	FrameInterval float64 `json:"frame_interval"` // Extract one frame every N seconds
	MaxDuration   float64 `json:"max_duration"`   // Analyze at most the first N seconds
}

// DefaultAnalysisConfig returns the sampling defaults used when a request
// omits them.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{FrameInterval: 1.0, MaxDuration: 10.0}
}

// Validate checks request-supplied sampling parameters against policy limits.
func (c AnalysisConfig) Validate() error {
	if c.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be a positive number, got %g", c.FrameInterval)
	}
	if c.FrameInterval > 10 {
		return fmt.Errorf("frame_interval cannot exceed 10 seconds")
	}
	if c.MaxDuration <= 0 {
		return fmt.Errorf("max_duration must be a positive number, got %g", c.MaxDuration)
	}
	if c.MaxDuration > 60 {
		return fmt.Errorf("max_duration cannot exceed 60 seconds")
	}
	return nil
}

// Job statuses as persisted by the store.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusPartial    = "partial"
	JobStatusFailed     = "failed"
)

// JobPayload is the async analysis job consumed from the queue.
type JobPayload struct {
	JobID      string         `json:"jobId"`
	VideoURL   string         `json:"videoUrl,omitempty"` // HTTP or YouTube URL
	SourceType string         `json:"sourceType,omitempty"`
	Filename   string         `json:"filename,omitempty"`
	Config     AnalysisConfig `json:"config"`
	EnqueuedAt *time.Time     `json:"enqueuedAt,omitempty"`
}

// Job is the persisted record of one analysis invocation.
type Job struct {
	JobID           string     `json:"jobId"`
	Status          string     `json:"status"`
	VideoURL        string     `json:"videoUrl,omitempty"`
	TotalFrames     int        `json:"totalFrames"`
	ProcessedFrames int        `json:"processedFrames"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// NewJobID generates a unique job identifier.
func NewJobID() string {
	return fmt.Sprintf("job_%s", uuid.New().String())
}
