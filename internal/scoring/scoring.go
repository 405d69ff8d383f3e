// Package scoring grades a learner's selections against a test paper.
//
// A question is correct only when the selected option set equals the set of
// options flagged correct. There is no partial credit.
package scoring

import (
	"math"

	"github.com/google/uuid"
	"github.com/stemsi/mocktest-backend/internal/model"
)

// QuestionOutcome is the grading of one question.
type QuestionOutcome struct {
	QuestionID uuid.UUID
	Topic      string
	Difficulty int
	Selected   []uuid.UUID
	Correct    bool
}

// Outcome is the grading of a whole paper.
type Outcome struct {
	Correct     int
	Total       int
	Score       float64
	PerQuestion []QuestionOutcome
}

// Score grades selections (question id to selected option ids) over questions.
// Selections for ids outside questions are ignored.
func Score(questions []model.Question, selections map[uuid.UUID][]uuid.UUID) Outcome {
	out := Outcome{
		Total:       len(questions),
		PerQuestion: make([]QuestionOutcome, 0, len(questions)),
	}

	for i := range questions {
		q := &questions[i]
		selected := selections[q.ID]
		ok := len(q.Options) > 0 && equalSet(toSet(selected), q.CorrectSet())
		if ok {
			out.Correct++
		}
		out.PerQuestion = append(out.PerQuestion, QuestionOutcome{
			QuestionID: q.ID,
			Topic:      q.Topic,
			Difficulty: q.Difficulty,
			Selected:   selected,
			Correct:    ok,
		})
	}

	if out.Total > 0 {
		out.Score = float64(out.Correct) / float64(out.Total) * 100
	}
	return out
}

// Summary is the headline record stored with an attempt.
func (o Outcome) Summary() model.Summary {
	return model.Summary{
		Correct:    o.Correct,
		Total:      o.Total,
		Percentage: int(math.Round(o.Score)),
	}
}

// Payload builds the versioned result payload. Only answered questions appear
// in the answers map.
func (o Outcome) Payload() *model.ResultPayload {
	p := &model.ResultPayload{
		SchemaVersion: model.ResultSchemaVersion,
		Answers:       make(map[uuid.UUID][]uuid.UUID),
		Questions:     make([]model.ResultQuestion, 0, len(o.PerQuestion)),
	}
	for _, q := range o.PerQuestion {
		if len(q.Selected) > 0 {
			p.Answers[q.QuestionID] = append([]uuid.UUID(nil), q.Selected...)
		}
		p.Questions = append(p.Questions, model.ResultQuestion{
			ID:         q.QuestionID,
			Topic:      q.Topic,
			Difficulty: q.Difficulty,
			Correct:    q.Correct,
		})
	}
	return p
}

func toSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func equalSet(a, b map[uuid.UUID]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}
