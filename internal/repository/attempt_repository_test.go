package repository

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResult_RejectsNewerSchema(t *testing.T) {
	a := &model.Attempt{ID: uuid.New()}
	err := decodeResult(a, []byte(`{"schema_version": 99}`))
	assert.ErrorIs(t, err, model.ErrUnsupportedSchema)
	assert.Nil(t, a.Result)
}

func TestDecodeListed_KeepsRowWithoutResult(t *testing.T) {
	var buf bytes.Buffer
	r := &AttemptRepository{log: zerolog.New(&buf)}

	bad := &model.Attempt{ID: uuid.New(), Score: 40}
	r.decodeListed(bad, []byte(`{"schema_version": 99}`))
	assert.Nil(t, bad.Result)
	assert.Equal(t, 40.0, bad.Score)
	assert.Contains(t, buf.String(), bad.ID.String())

	buf.Reset()
	good := &model.Attempt{ID: uuid.New()}
	r.decodeListed(good, []byte(`{"schema_version": 1, "questions": []}`))
	require.NotNil(t, good.Result)
	assert.Equal(t, model.ResultSchemaVersion, good.Result.SchemaVersion)
	assert.Empty(t, buf.String())
}
