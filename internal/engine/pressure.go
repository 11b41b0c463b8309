package engine

import (
	"math"

	"webweaver/engine/internal/llm"
)

const (
	pressureModerateThreshold = 0.40
	pressureHeavyThreshold    = 0.70
)

const (
	pressureLight    = "light"
	pressureModerate = "moderate"
	pressureHeavy    = "heavy"
)

// transcriptPressure estimates how much of the model's context window the
// cumulative transcript occupies. The transcript only grows, so pressure is
// monotonic within a session; the loop logs a warning once it turns heavy.
type transcriptPressure struct {
	Score float64
	Level string
}

func computeTranscriptPressure(messages []llm.ChatMessage, modelID string) transcriptPressure {
	contextTokens := modelContextTokens(modelID)
	usage := float64(estimatePayloadBytes(messages)) / 4.0
	// Tool schemas and per-message framing ride along with every request.
	usage += float64(len(messages)) * 16
	score := usage / float64(contextTokens)
	score = math.Max(0, math.Min(1, score))
	level := pressureLight
	if score >= pressureHeavyThreshold {
		level = pressureHeavy
	} else if score >= pressureModerateThreshold {
		level = pressureModerate
	}
	return transcriptPressure{Score: score, Level: level}
}

func estimatePayloadBytes(messages []llm.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
		for _, tc := range m.ToolCalls {
			total += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
	}
	return total
}
