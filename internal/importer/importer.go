// Package importer loads question banks written in YAML into the catalogue.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/repository"
	"github.com/stemsi/mocktest-backend/internal/service"
	"gopkg.in/yaml.v3"
)

// Bank is one YAML question bank file.
//
//	subject: {key: MATH, name: Mathematics}
//	questions:
//	  - ref: q1
//	    title: 2 + 2
//	    topic: Arithmetic
//	    difficulty: 1
//	    options:
//	      - {text: "4", correct: true}
//	      - {text: "5"}
//	tests:
//	  - {title: Warm-up, duration_minutes: 10, questions: [q1]}
type Bank struct {
	Subject   SubjectDef    `yaml:"subject"`
	Questions []QuestionDef `yaml:"questions"`
	Tests     []TestDef     `yaml:"tests"`
}

type SubjectDef struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type QuestionDef struct {
	Ref        string      `yaml:"ref"`
	Title      string      `yaml:"title"`
	Body       string      `yaml:"body"`
	Topic      string      `yaml:"topic"`
	Difficulty int         `yaml:"difficulty"`
	Multiple   bool        `yaml:"multiple"`
	Options    []OptionDef `yaml:"options"`
}

type OptionDef struct {
	Text    string `yaml:"text"`
	Correct bool   `yaml:"correct"`
}

// TestDef references questions by ref. An empty list takes every question
// of the bank in file order.
type TestDef struct {
	Title           string   `yaml:"title"`
	DurationMinutes int      `yaml:"duration_minutes"`
	Shuffle         bool     `yaml:"shuffle"`
	Questions       []string `yaml:"questions"`
}

// Result counts what an import created.
type Result struct {
	SubjectID      uuid.UUID
	SubjectCreated bool
	Questions      int
	Tests          int
}

// Parse decodes and validates a bank. Unknown keys are rejected.
func Parse(r io.Reader) (*Bank, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var b Bank
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bank: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks the bank without touching the database.
func (b *Bank) Validate() error {
	if b.Subject.Key == "" {
		return errors.New("subject.key is required")
	}
	if len(b.Questions) == 0 {
		return errors.New("bank has no questions")
	}

	refs := make(map[string]struct{}, len(b.Questions))
	for i, q := range b.Questions {
		if q.Title == "" {
			return fmt.Errorf("questions[%d]: title is required", i)
		}
		if q.Difficulty < 1 || q.Difficulty > 3 {
			return fmt.Errorf("questions[%d]: difficulty must be 1, 2 or 3", i)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("questions[%d]: at least two options are required", i)
		}
		if err := service.ValidateAnswerKey(q.Multiple, q.optionInputs()); err != nil {
			return fmt.Errorf("questions[%d]: %w", i, err)
		}
		if q.Ref == "" {
			continue
		}
		if _, dup := refs[q.Ref]; dup {
			return fmt.Errorf("questions[%d]: duplicate ref %q", i, q.Ref)
		}
		refs[q.Ref] = struct{}{}
	}

	for i, t := range b.Tests {
		if t.Title == "" {
			return fmt.Errorf("tests[%d]: title is required", i)
		}
		if t.DurationMinutes < 1 {
			return fmt.Errorf("tests[%d]: duration_minutes must be positive", i)
		}
		for _, ref := range t.Questions {
			if _, ok := refs[ref]; !ok {
				return fmt.Errorf("tests[%d]: unknown question ref %q", i, ref)
			}
		}
	}
	return nil
}

func (q QuestionDef) optionInputs() []model.OptionInput {
	opts := make([]model.OptionInput, len(q.Options))
	for i, o := range q.Options {
		opts[i] = model.OptionInput{Text: o.Text, IsCorrect: o.Correct}
	}
	return opts
}

func (q QuestionDef) request(subjectID uuid.UUID) model.UpsertQuestionRequest {
	return model.UpsertQuestionRequest{
		SubjectID:  subjectID,
		Title:      q.Title,
		Body:       q.Body,
		Topic:      q.Topic,
		Difficulty: q.Difficulty,
		Multiple:   q.Multiple,
		Options:    q.optionInputs(),
	}
}

// Beginner starts a transaction; *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Importer writes banks through the catalogue repositories.
type Importer struct {
	db        Beginner
	subjects  *repository.SubjectRepository
	questions *repository.QuestionRepository
	tests     *repository.TestRepository
	log       zerolog.Logger
}

func New(db Beginner, subjects *repository.SubjectRepository, questions *repository.QuestionRepository, tests *repository.TestRepository, log zerolog.Logger) *Importer {
	return &Importer{
		db:        db,
		subjects:  subjects,
		questions: questions,
		tests:     tests,
		log:       log.With().Str("component", "importer").Logger(),
	}
}

// Import stores the bank in one transaction. The subject is matched by key
// and created when missing; questions and tests are always added.
func (im *Importer) Import(ctx context.Context, b *Bank) (*Result, error) {
	var res Result

	err := pgx.BeginFunc(ctx, im.db, func(tx pgx.Tx) error {
		subjects := im.subjects.WithTx(tx)
		questions := im.questions.WithTx(tx)
		tests := im.tests.WithTx(tx)

		subject, err := subjects.GetByKey(ctx, b.Subject.Key)
		switch {
		case errors.Is(err, model.ErrNotFound):
			if b.Subject.Name == "" {
				return fmt.Errorf("subject %q does not exist and has no name", b.Subject.Key)
			}
			subject = &model.Subject{Key: b.Subject.Key, Name: b.Subject.Name}
			if err := subjects.Create(ctx, subject); err != nil {
				return fmt.Errorf("create subject: %w", err)
			}
			res.SubjectCreated = true
		case err != nil:
			return fmt.Errorf("lookup subject: %w", err)
		}
		res.SubjectID = subject.ID

		byRef := make(map[string]uuid.UUID, len(b.Questions))
		all := make([]uuid.UUID, 0, len(b.Questions))
		for i, def := range b.Questions {
			q, err := service.BuildQuestion(def.request(subject.ID))
			if err != nil {
				return fmt.Errorf("questions[%d]: %w", i, err)
			}
			if err := questions.Create(ctx, q); err != nil {
				return fmt.Errorf("questions[%d]: %w", i, err)
			}
			if def.Ref != "" {
				byRef[def.Ref] = q.ID
			}
			all = append(all, q.ID)
		}
		res.Questions = len(all)

		for i, def := range b.Tests {
			t := &model.Test{
				SubjectID:       subject.ID,
				Title:           def.Title,
				DurationMinutes: def.DurationMinutes,
				Shuffle:         def.Shuffle,
			}
			if err := tests.Create(ctx, t); err != nil {
				return fmt.Errorf("tests[%d]: %w", i, err)
			}

			ids := all
			if len(def.Questions) > 0 {
				ids = make([]uuid.UUID, len(def.Questions))
				for j, ref := range def.Questions {
					ids[j] = byRef[ref]
				}
			}
			if err := tests.SetQuestions(ctx, t.ID, ids); err != nil {
				return fmt.Errorf("tests[%d]: %w", i, err)
			}
		}
		res.Tests = len(b.Tests)
		return nil
	})
	if err != nil {
		return nil, err
	}

	im.log.Info().
		Str("subject", b.Subject.Key).
		Int("questions", res.Questions).
		Int("tests", res.Tests).
		Msg("Question bank imported")
	return &res, nil
}
