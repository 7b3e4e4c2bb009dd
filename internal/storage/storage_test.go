package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/dump-bot/internal/errors"
	"github.com/xaenox/dump-bot/internal/models"
	"go.uber.org/zap/zaptest"
)

type storeFactory func(t *testing.T) Storage

func backends(t *testing.T) map[string]storeFactory {
	b := map[string]storeFactory{
		"memory": func(t *testing.T) Storage { return NewMemoryStorage() },
		"sqlite": func(t *testing.T) Storage {
			s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "dumps.db"), zaptest.NewLogger(t))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("DUMP_BOT_TEST_DATABASE_URL"); dsn != "" {
		b["postgres"] = func(t *testing.T) Storage {
			s, err := OpenPostgres(dsn, zaptest.NewLogger(t))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return b
}

// Postgres runs share a database, so sessions are unique per test.
func newSession() string {
	return "session-" + uuid.New().String()
}

func eachBackend(t *testing.T, fn func(t *testing.T, s Storage)) {
	for name, factory := range backends(t) {
		factory := factory
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func addEntry(t *testing.T, s Storage, sessionID, content string) *models.Entry {
	t.Helper()
	e := models.NewEntry(uuid.New().String(), sessionID, "u1", content)
	require.NoError(t, s.CreateEntry(context.Background(), e))
	return e
}

func TestStorage_Entries(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		session := newSession()

		first := addEntry(t, s, session, "first")
		time.Sleep(time.Millisecond)
		second := addEntry(t, s, session, "second")
		addEntry(t, s, newSession(), "elsewhere")

		entries, err := s.ListEntries(ctx, session)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, first.ID, entries[0].ID)
		assert.Equal(t, second.ID, entries[1].ID)
		assert.Equal(t, models.NoteEntry, entries[0].Type)

		require.NoError(t, s.UpdateEntryType(ctx, first.ID, models.DecisionEntry))
		got, err := s.GetEntry(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DecisionEntry, got.Type)
		assert.Equal(t, "first", got.Content)

		_, err = s.GetEntry(ctx, "missing")
		assert.True(t, errors.Is(err, errors.KindNotFound))
		assert.True(t, errors.Is(s.UpdateEntryType(ctx, "missing", models.IdeaEntry), errors.KindNotFound))
	})
}

func TestStorage_ThemeLinksAreIdempotent(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		session := newSession()
		e1 := addEntry(t, s, session, "one")
		e2 := addEntry(t, s, session, "two")

		themeID, err := s.InsertTheme(ctx, &models.Theme{SessionID: session, Title: "Pricing", Tags: []string{"pricing"}, Confidence: 70})
		require.NoError(t, err)
		require.NotEmpty(t, themeID)

		require.NoError(t, s.LinkEntryToTheme(ctx, e1.ID, themeID))
		require.NoError(t, s.LinkEntryToTheme(ctx, e1.ID, themeID))
		require.NoError(t, s.LinkEntryToTheme(ctx, e2.ID, themeID))

		themes, err := s.ListThemes(ctx, session)
		require.NoError(t, err)
		require.Len(t, themes, 1)
		assert.Equal(t, []string{e1.ID, e2.ID}, themes[0].LinkedEntryIDs)
		assert.Equal(t, []string{"pricing"}, themes[0].Tags)
	})
}

func TestStorage_RaiseThemeConfidenceNeverLowers(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		session := newSession()
		themeID, err := s.InsertTheme(ctx, &models.Theme{SessionID: session, Title: "Launch", Confidence: 80})
		require.NoError(t, err)

		require.NoError(t, s.RaiseThemeConfidence(ctx, themeID, 60))
		require.NoError(t, s.RaiseThemeConfidence(ctx, themeID, 92))
		require.NoError(t, s.RaiseThemeConfidence(ctx, themeID, 85))

		themes, err := s.ListThemes(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, 92, themes[0].Confidence)

		assert.True(t, errors.Is(s.RaiseThemeConfidence(ctx, "missing", 10), errors.KindNotFound))
	})
}

func TestStorage_AddThemeTagsUnions(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		session := newSession()
		themeID, err := s.InsertTheme(ctx, &models.Theme{SessionID: session, Title: "Pricing", Tags: []string{"pricing", "enterprise"}, Confidence: 50})
		require.NoError(t, err)

		require.NoError(t, s.AddThemeTags(ctx, themeID, []string{"enterprise", "startups"}))

		themes, err := s.ListThemes(ctx, session)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"pricing", "enterprise", "startups"}, themes[0].Tags)
	})
}

func TestStorage_ActionsAndQuestions(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		session := newSession()
		e := addEntry(t, s, session, "source")

		require.NoError(t, s.InsertActions(ctx, []*models.ActionItem{
			{SessionID: session, Text: "Validate pricing", Owner: models.DefaultOwner, Priority: models.HighPriority, SourceEntryIDs: []string{e.ID}},
			{SessionID: session, Text: "Validate pricing", Owner: models.DefaultOwner, Priority: models.HighPriority, SourceEntryIDs: []string{e.ID}},
		}))
		require.NoError(t, s.InsertQuestions(ctx, []*models.Question{
			{SessionID: session, Text: "Annual discounts?", SourceEntryIDs: []string{e.ID}},
		}))
		require.NoError(t, s.InsertActions(ctx, nil))

		actions, err := s.ListActions(ctx, session)
		require.NoError(t, err)
		require.Len(t, actions, 2, "actions are never deduplicated")
		assert.Equal(t, []string{e.ID}, actions[0].SourceEntryIDs)
		assert.False(t, actions[0].Done)

		require.NoError(t, s.ToggleDone(ctx, actions[0].ID))
		actions, err = s.ListActions(ctx, session)
		require.NoError(t, err)
		assert.True(t, actions[0].Done)
		require.NoError(t, s.ToggleDone(ctx, actions[0].ID))
		actions, err = s.ListActions(ctx, session)
		require.NoError(t, err)
		assert.False(t, actions[0].Done)

		questions, err := s.ListQuestions(ctx, session)
		require.NoError(t, err)
		require.Len(t, questions, 1)
		assert.Equal(t, 0, questions[0].Votes)

		assert.True(t, errors.Is(s.IncrementVotes(ctx, "missing"), errors.KindNotFound))
		assert.True(t, errors.Is(s.ToggleDone(ctx, "missing"), errors.KindNotFound))
	})
}

func TestStorage_IncrementVotesIsAtomic(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		session := newSession()
		require.NoError(t, s.InsertQuestions(ctx, []*models.Question{{SessionID: session, Text: "Price out startups?"}}))
		questions, err := s.ListQuestions(ctx, session)
		require.NoError(t, err)
		id := questions[0].ID

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.IncrementVotes(ctx, id))
			}()
		}
		wg.Wait()

		questions, err = s.ListQuestions(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, 20, questions[0].Votes)
	})
}

func TestStorage_WithTx(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Storage) {
		txs, ok := s.(Transactor)
		if !ok {
			t.Skip("store writes each operation on its own")
		}
		ctx := context.Background()
		session := newSession()
		e := addEntry(t, s, session, "pricing")

		err := txs.WithTx(ctx, func(tx Storage) error {
			require.NoError(t, tx.UpdateEntryType(ctx, e.ID, models.ActionEntry))
			require.NoError(t, tx.InsertActions(ctx, []*models.ActionItem{
				{SessionID: session, Text: "kept", Owner: models.DefaultOwner, Priority: models.LowPriority, SourceEntryIDs: []string{e.ID}},
			}))
			// A nested call joins the open transaction.
			return tx.(Transactor).WithTx(ctx, func(inner Storage) error {
				_, err := inner.InsertTheme(ctx, &models.Theme{SessionID: session, Title: "Pricing", Confidence: 50})
				return err
			})
		})
		require.NoError(t, err)

		err = txs.WithTx(ctx, func(tx Storage) error {
			require.NoError(t, tx.UpdateEntryType(ctx, e.ID, models.IdeaEntry))
			require.NoError(t, tx.InsertActions(ctx, []*models.ActionItem{
				{SessionID: session, Text: "rolled back", Owner: models.DefaultOwner, Priority: models.LowPriority},
			}))
			return errors.NewStorage("insert questions", fmt.Errorf("connection lost"))
		})
		assert.True(t, errors.Is(err, errors.KindStorage))

		agg, err := LoadAggregate(ctx, s, session)
		require.NoError(t, err)
		assert.Equal(t, models.ActionEntry, agg.Entries[0].Type, "the failed transaction left the type alone")
		require.Len(t, agg.Actions, 1)
		assert.Equal(t, "kept", agg.Actions[0].Text)
		assert.Len(t, agg.Themes, 1)
	})
}

func TestLoadAggregate(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	e := addEntry(t, s, "s1", "dump")
	_, err := s.InsertTheme(ctx, &models.Theme{SessionID: "s1", Title: "T", Confidence: 50})
	require.NoError(t, err)
	require.NoError(t, s.InsertActions(ctx, []*models.ActionItem{{SessionID: "s1", Text: "a", Priority: models.LowPriority, SourceEntryIDs: []string{e.ID}}}))

	agg, err := LoadAggregate(ctx, s, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", agg.SessionID)
	assert.Len(t, agg.Entries, 1)
	assert.Len(t, agg.Themes, 1)
	assert.Len(t, agg.Actions, 1)
	assert.Empty(t, agg.Questions)
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	themeID, err := s.InsertTheme(ctx, &models.Theme{SessionID: "s1", Title: "T", Tags: []string{"a"}, Confidence: 50})
	require.NoError(t, err)

	themes, err := s.ListThemes(ctx, "s1")
	require.NoError(t, err)
	themes[0].Tags[0] = "mutated"
	themes[0].Confidence = 1

	themes, err = s.ListThemes(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, themeID, themes[0].ID)
	assert.Equal(t, []string{"a"}, themes[0].Tags)
	assert.Equal(t, 50, themes[0].Confidence)
}

func TestUnionTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, unionTags([]string{"a", "b"}, []string{"b", "c", "c"}))
	assert.Equal(t, []string{"x"}, unionTags(nil, []string{"x"}))
}
