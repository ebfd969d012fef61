// Package prompts builds the analysis instructions sent to vision providers.
package prompts

import (
	"fmt"
	"strings"
)

const schemaBlock = `{
  "timestamp": %s,
  "players": [
    {
      "id": "string_or_unknown",
      "team": "A | B",
      "shirt_number": "number_or_unknown",
      "position": "string",
      "role": "string",
      "coordinates": [x, y]
    }
  ],
  "ball": {
    "visible": boolean,
    "coordinates": [x, y] | null
  },
  "event": "pass | shot | dribble | tackle | interception | clearance | duel | goal | set_piece | transition | none",
  "tactical_context": "string",
  "scan_metrics": {
    "scan_frequency": "number_or_unknown",
    "scan_quality": "good | average | poor | unknown",
    "pre_reception_scans": "number_or_unknown",
    "head_movement_angle": "left | right | backward | forward | unknown"
  },
  "decision_intelligence": {
    "best_option": "string",
    "simple_option": "string",
    "risk_level": "low | medium | high | unknown",
    "decision_time": "number_or_unknown",
    "reaction_time": "number_or_unknown"
  },
  "technical_execution": {
    "pass_direction": "forward | diagonal | lateral | backward | none",
    "pass_success": "successful | turnover | unknown",
    "dribbling_success": "beaten | failed | none | unknown",
    "shot_direction": "top_corner | bottom_corner | central | wide | none",
    "execution_quality": "excellent | good | average | poor | unknown",
    "ball_loss_classification": "wrong_decision | poor_execution | none | unknown"
  },
  "off_ball_intelligence": {
    "availability_index": "high | medium | low | unknown",
    "progressive_opportunity_index": "high | medium | low | unknown",
    "spatial_awareness": "excellent | good | average | poor | unknown",
    "tsx_cognitive_index": "number_or_unknown"
  },
  "tactical_notes": "string",
  "formation_analysis": {
    "team_a_formation": "string",
    "team_b_formation": "string",
    "pressing_structure": "string",
    "build_up_patterns": "string"
  },
  "performance_insight": "string"
}`

const rules = `Rules:
- Return ONLY valid JSON
- Do not include explanations outside JSON
- Do not include markdown code blocks
- Use "unknown" for any metric that cannot be determined
- Be as detailed as possible while maintaining JSON validity
- Focus on observable actions and behaviors`

// Frame returns the single-frame analysis prompt. The requested timestamp is
// embedded so the model anchors its answer to the frame being shown.
func Frame(timestamp float64) string {
	var b strings.Builder
	b.WriteString("Analyze the provided football match frame in complete tactical, technical, and cognitive detail.\n\n")
	b.WriteString("Player & Team Identification:\n")
	b.WriteString("- Identify every player visible in the frame\n")
	b.WriteString("- Specify team, shirt number (if visible), and position/role where possible\n\n")
	b.WriteString("Identify and describe the on-ball event: passes, shots, dribbles, tackles, interceptions, clearances, duels, goals, set pieces, transitions.\n\n")
	fmt.Fprintf(&b, "Current Frame Timestamp: %.2f seconds\n\n", timestamp)
	b.WriteString("Evaluate cognitive and decision-making indicators: scan frequency and quality, pre-reception scans, head movement angle, best vs simple option, risk level, decision and reaction time, pass/dribble/shot execution, ball-loss classification, availability and progressive-opportunity indexes, spatial awareness, and overall cognitive index.\n\n")
	b.WriteString("Assess team shape: formations in and out of possession, pressing structure and triggers, build-up patterns.\n\n")
	b.WriteString("Provide all output strictly as a single JSON object with this structure:\n\n")
	fmt.Fprintf(&b, schemaBlock, fmt.Sprintf("%g", timestamp))
	b.WriteString("\n\n")
	b.WriteString(rules)
	return b.String()
}

// Video returns the whole-video multimodal prompt. The model is asked for a
// JSON array with one record per requested timestamp.
func Video(timestamps []float64) string {
	var b strings.Builder
	b.WriteString("Analyze the provided football match video in complete tactical, technical, and cognitive detail.\n\n")
	b.WriteString("Analyze the match chronologically, covering the full duration of the video. ")
	fmt.Fprintf(&b, "Produce exactly %d records, one for each of these timestamps (seconds): ", len(timestamps))
	for i, ts := range timestamps {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%.2f", ts)
	}
	b.WriteString("\n\n")
	b.WriteString("For each timestamp identify every visible player (team, shirt number, position/role), the ball, and the on-ball event, and evaluate the cognitive, technical, and tactical indicators described by the schema.\n\n")
	b.WriteString("Provide all output strictly as a JSON array of objects, each with this structure:\n\n")
	fmt.Fprintf(&b, schemaBlock, "number")
	b.WriteString("\n\n")
	b.WriteString(rules)
	return b.String()
}
