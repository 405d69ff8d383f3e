package scoring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	optA = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	optB = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	optC = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	optD = uuid.MustParse("00000000-0000-0000-0000-00000000000d")
)

func question(topic string, correct ...uuid.UUID) model.Question {
	q := model.Question{ID: uuid.New(), Topic: topic, Difficulty: 2, Multiple: len(correct) > 1}
	isCorrect := make(map[uuid.UUID]bool, len(correct))
	for _, id := range correct {
		isCorrect[id] = true
	}
	for _, id := range []uuid.UUID{optA, optB, optC, optD} {
		q.Options = append(q.Options, model.Option{ID: id, QuestionID: q.ID, IsCorrect: isCorrect[id]})
	}
	return q
}

func TestScore_ExactSetMatch(t *testing.T) {
	q := question("Algebra", optA, optB)

	tests := []struct {
		name     string
		selected []uuid.UUID
		want     bool
	}{
		{name: "exact set", selected: []uuid.UUID{optA, optB}, want: true},
		{name: "exact set reversed", selected: []uuid.UUID{optB, optA}, want: true},
		{name: "missing one", selected: []uuid.UUID{optA}, want: false},
		{name: "extra wrong", selected: []uuid.UUID{optA, optB, optC}, want: false},
		{name: "empty", selected: []uuid.UUID{}, want: false},
		{name: "nil", selected: nil, want: false},
		{name: "duplicates collapse", selected: []uuid.UUID{optA, optB, optA}, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Score([]model.Question{q}, map[uuid.UUID][]uuid.UUID{q.ID: tc.selected})
			require.Len(t, got.PerQuestion, 1)
			assert.Equal(t, tc.want, got.PerQuestion[0].Correct)
		})
	}
}

func TestScore_Formula(t *testing.T) {
	qs := []model.Question{
		question("Algebra", optA),
		question("Algebra", optB),
		question("Geometry", optC),
		question("Geometry", optD),
	}
	sel := map[uuid.UUID][]uuid.UUID{
		qs[0].ID: {optA},
		qs[1].ID: {optB},
		qs[2].ID: {optC},
		qs[3].ID: {optA},
	}

	got := Score(qs, sel)
	assert.Equal(t, 3, got.Correct)
	assert.Equal(t, 4, got.Total)
	assert.InDelta(t, 75.0, got.Score, 1e-9)
	assert.Equal(t, model.Summary{Correct: 3, Total: 4, Percentage: 75}, got.Summary())
}

func TestScore_NoQuestions(t *testing.T) {
	got := Score(nil, nil)
	assert.Equal(t, 0, got.Total)
	assert.Equal(t, 0.0, got.Score)
	assert.Empty(t, got.PerQuestion)
}

func TestScore_DegenerateQuestions(t *testing.T) {
	noOptions := model.Question{ID: uuid.New(), Topic: "Empty"}
	noneCorrect := question("Trick")

	got := Score([]model.Question{noOptions, noneCorrect}, map[uuid.UUID][]uuid.UUID{})
	require.Len(t, got.PerQuestion, 2)
	assert.False(t, got.PerQuestion[0].Correct, "a question without options never counts correct")
	assert.True(t, got.PerQuestion[1].Correct, "empty selection matches an empty correct set")
}

func TestScore_IgnoresForeignSelections(t *testing.T) {
	q := question("Algebra", optA)
	got := Score([]model.Question{q}, map[uuid.UUID][]uuid.UUID{
		q.ID:       {optA},
		uuid.New(): {optB},
	})
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, 1, got.Correct)
}

func TestOutcome_Payload(t *testing.T) {
	q1 := question("Algebra", optA)
	q2 := question("", optB)
	got := Score([]model.Question{q1, q2}, map[uuid.UUID][]uuid.UUID{q1.ID: {optA}})

	p := got.Payload()
	assert.Equal(t, model.ResultSchemaVersion, p.SchemaVersion)
	assert.Equal(t, []uuid.UUID{optA}, p.Answers[q1.ID])
	_, answered := p.Answers[q2.ID]
	assert.False(t, answered)
	require.Len(t, p.Questions, 2)
	assert.Equal(t, model.ResultQuestion{ID: q1.ID, Topic: "Algebra", Difficulty: 2, Correct: true}, p.Questions[0])
	assert.False(t, p.Questions[1].Correct)
}
