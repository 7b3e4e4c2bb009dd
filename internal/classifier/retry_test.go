package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/dump-bot/internal/errors"
	"github.com/xaenox/dump-bot/internal/models"
	"go.uber.org/zap"
)

func failingOracle(calls *int, errs ...error) Oracle {
	return OracleFunc(func(ctx context.Context, req Request) (*models.Classification, error) {
		i := *calls
		*calls++
		if i < len(errs) {
			return nil, errs[i]
		}
		return &models.Classification{Type: models.NoteEntry}, nil
	})
}

func TestRetryingOracle_RetriesTransient(t *testing.T) {
	calls := 0
	oracle := NewRetryingOracle(failingOracle(&calls,
		errors.NewOracleTimeout(time.Second, nil),
		errors.NewOracleUnavailable(502, nil),
	), 2, time.Millisecond, zap.NewNop())

	got, err := oracle.Classify(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, models.NoteEntry, got.Type)
	assert.Equal(t, 3, calls)
}

func TestRetryingOracle_GivesUp(t *testing.T) {
	calls := 0
	oracle := NewRetryingOracle(failingOracle(&calls,
		errors.NewOracleUnavailable(502, nil),
		errors.NewOracleUnavailable(502, nil),
	), 1, time.Millisecond, zap.NewNop())

	_, err := oracle.Classify(context.Background(), Request{})
	assert.True(t, errors.Is(err, errors.KindOracleUnavailable))
	assert.Equal(t, 2, calls)
}

func TestRetryingOracle_NeverRetriesMalformed(t *testing.T) {
	calls := 0
	oracle := NewRetryingOracle(failingOracle(&calls,
		errors.NewMalformedResponse("bad", ""),
	), 3, time.Millisecond, zap.NewNop())

	_, err := oracle.Classify(context.Background(), Request{})
	assert.True(t, errors.Is(err, errors.KindMalformedResponse))
	assert.Equal(t, 1, calls)
}

func TestRetryingOracle_StopsOnCancel(t *testing.T) {
	calls := 0
	oracle := NewRetryingOracle(failingOracle(&calls,
		errors.NewOracleTimeout(time.Second, nil),
		errors.NewOracleTimeout(time.Second, nil),
	), 5, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := oracle.Classify(ctx, Request{})
	assert.True(t, errors.Is(err, errors.KindOracleTimeout))
	assert.Equal(t, 1, calls)
}
