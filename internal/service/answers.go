package service

import (
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// parseAnswerEntry validates the identity and selected index of one incoming
// answer entry. Malformed entries are a client-input problem recovered per
// entry: the caller logs and skips them so partial or corrupt client state
// never blocks saving the valid remainder.
//
// Returns the parsed question ID and integer index, or ok=false with a
// reason suitable for logging.
func parseAnswerEntry(questionID string, selected *float64, known map[string]bool) (uuid.UUID, int, bool, string) {
	qid, err := uuid.Parse(questionID)
	if err != nil {
		return uuid.Nil, 0, false, "malformed question id"
	}
	if !known[qid.String()] {
		return uuid.Nil, 0, false, "question not in exam"
	}
	if selected == nil {
		return uuid.Nil, 0, false, "selected index missing"
	}
	if *selected != math.Trunc(*selected) {
		return uuid.Nil, 0, false, "selected index not an integer"
	}
	idx := int(*selected)
	if idx < 0 || idx > 3 {
		return uuid.Nil, 0, false, "selected index out of range"
	}
	return qid, idx, true, ""
}

func logSkippedAnswer(log zerolog.Logger, questionID, reason string) {
	log.Warn().
		Str("question_id", questionID).
		Str("reason", reason).
		Msg("Dropping invalid answer entry")
}
