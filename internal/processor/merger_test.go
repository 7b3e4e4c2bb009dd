package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/dump-bot/internal/errors"
	"github.com/xaenox/dump-bot/internal/models"
	"github.com/xaenox/dump-bot/internal/storage"
	"go.uber.org/zap/zaptest"
)

func newMerger(t *testing.T, union bool) (*ThemeMerger, *storage.MemoryStorage) {
	store := storage.NewMemoryStorage()
	return NewThemeMerger(store, union, zaptest.NewLogger(t)), store
}

func themes(t *testing.T, s storage.Storage, sessionID string) []*models.Theme {
	t.Helper()
	list, err := s.ListThemes(context.Background(), sessionID)
	require.NoError(t, err)
	return list
}

func TestMerge_CreatesTheme(t *testing.T) {
	m, store := newMerger(t, false)
	entry := models.NewEntry("d1", "s1", "u1", "need enterprise pricing")

	res, err := m.Merge(context.Background(), "s1", entry, models.ThemeDraft{Title: "Enterprise Pricing Strategy", Tags: []string{"pricing"}, Confidence: 80})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 80, res.Confidence)

	list := themes(t, store, "s1")
	require.Len(t, list, 1)
	assert.Equal(t, res.ThemeID, list[0].ID)
	assert.Equal(t, "Enterprise Pricing Strategy", list[0].Title)
	assert.Equal(t, []string{"pricing"}, list[0].Tags)
	assert.Equal(t, []string{"d1"}, list[0].LinkedEntryIDs)
}

func TestMerge_IdempotentLinking(t *testing.T) {
	m, store := newMerger(t, false)
	entry := models.NewEntry("d1", "s1", "u1", "x")
	draft := models.ThemeDraft{Title: "Launch", Confidence: 70}

	first, err := m.Merge(context.Background(), "s1", entry, draft)
	require.NoError(t, err)
	second, err := m.Merge(context.Background(), "s1", entry, draft)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.ThemeID, second.ThemeID)

	list := themes(t, store, "s1")
	require.Len(t, list, 1)
	assert.Equal(t, []string{"d1"}, list[0].LinkedEntryIDs)
}

func TestMerge_MonotonicConfidence(t *testing.T) {
	m, store := newMerger(t, false)
	ctx := context.Background()

	prev := 0
	for i, c := range []int{60, 40, 75, 75, 10, 99, 98} {
		entry := models.NewEntry(string(rune('a'+i)), "s1", "u1", "x")
		_, err := m.Merge(ctx, "s1", entry, models.ThemeDraft{Title: "Pricing", Confidence: c})
		require.NoError(t, err)

		got := themes(t, store, "s1")[0].Confidence
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
	assert.Equal(t, 99, prev)
}

func TestMerge_CaseInsensitiveOnly(t *testing.T) {
	m, store := newMerger(t, false)
	ctx := context.Background()

	_, err := m.Merge(ctx, "s1", models.NewEntry("d1", "s1", "u1", "x"), models.ThemeDraft{Title: "Pricing Strategy", Confidence: 50})
	require.NoError(t, err)
	res, err := m.Merge(ctx, "s1", models.NewEntry("d2", "s1", "u1", "x"), models.ThemeDraft{Title: "pricing strategy", Confidence: 50})
	require.NoError(t, err)
	assert.False(t, res.Created)

	res, err = m.Merge(ctx, "s1", models.NewEntry("d3", "s1", "u1", "x"), models.ThemeDraft{Title: "Pricing  Strategy", Confidence: 50})
	require.NoError(t, err)
	assert.True(t, res.Created, "double space is a different title")

	res, err = m.Merge(ctx, "s1", models.NewEntry("d4", "s1", "u1", "x"), models.ThemeDraft{Title: "Pricing Strategies", Confidence: 50})
	require.NoError(t, err)
	assert.True(t, res.Created, "no stemming")

	list := themes(t, store, "s1")
	require.Len(t, list, 3)
	assert.Equal(t, "Pricing Strategy", list[0].Title)
	assert.Equal(t, []string{"d1", "d2"}, list[0].LinkedEntryIDs)
}

func TestMerge_ScopedToSession(t *testing.T) {
	m, store := newMerger(t, false)
	ctx := context.Background()

	_, err := m.Merge(ctx, "s1", models.NewEntry("d1", "s1", "u1", "x"), models.ThemeDraft{Title: "Pricing", Confidence: 50})
	require.NoError(t, err)
	res, err := m.Merge(ctx, "s2", models.NewEntry("d2", "s2", "u1", "x"), models.ThemeDraft{Title: "Pricing", Confidence: 50})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Len(t, themes(t, store, "s1"), 1)
	assert.Len(t, themes(t, store, "s2"), 1)
}

func TestMerge_EmptyTitleRejected(t *testing.T) {
	m, store := newMerger(t, false)

	for _, title := range []string{"", "   "} {
		_, err := m.Merge(context.Background(), "s1", models.NewEntry("d1", "s1", "u1", "x"), models.ThemeDraft{Title: title, Confidence: 50})
		assert.True(t, errors.Is(err, errors.KindValidation), "title %q: %v", title, err)
	}
	assert.Empty(t, themes(t, store, "s1"))
}

func TestMerge_ConfidenceClamped(t *testing.T) {
	m, store := newMerger(t, false)
	ctx := context.Background()

	res, err := m.Merge(ctx, "s1", models.NewEntry("d1", "s1", "u1", "x"), models.ThemeDraft{Title: "Hot", Confidence: 250})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Confidence)

	res, err = m.Merge(ctx, "s1", models.NewEntry("d2", "s1", "u1", "x"), models.ThemeDraft{Title: "Cold", Confidence: -20})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Confidence)

	list := themes(t, store, "s1")
	assert.Equal(t, 100, list[0].Confidence)
	assert.Equal(t, 0, list[1].Confidence)
}

func TestMerge_TagsUntouchedByDefault(t *testing.T) {
	m, store := newMerger(t, false)
	ctx := context.Background()

	_, err := m.Merge(ctx, "s1", models.NewEntry("d1", "s1", "u1", "x"), models.ThemeDraft{Title: "Pricing", Tags: []string{"pricing"}, Confidence: 50})
	require.NoError(t, err)
	_, err = m.Merge(ctx, "s1", models.NewEntry("d2", "s1", "u1", "x"), models.ThemeDraft{Title: "PRICING", Tags: []string{"enterprise"}, Confidence: 50})
	require.NoError(t, err)

	assert.Equal(t, []string{"pricing"}, themes(t, store, "s1")[0].Tags)
}

func TestMerge_UnionTags(t *testing.T) {
	m, store := newMerger(t, true)
	ctx := context.Background()

	_, err := m.Merge(ctx, "s1", models.NewEntry("d1", "s1", "u1", "x"), models.ThemeDraft{Title: "Pricing", Tags: []string{"pricing"}, Confidence: 50})
	require.NoError(t, err)
	_, err = m.Merge(ctx, "s1", models.NewEntry("d2", "s1", "u1", "x"), models.ThemeDraft{Title: "pricing", Tags: []string{"enterprise", "pricing"}, Confidence: 50})
	require.NoError(t, err)
	_, err = m.Merge(ctx, "s1", models.NewEntry("d3", "s1", "u1", "x"), models.ThemeDraft{Title: "Pricing", Confidence: 50})
	require.NoError(t, err)

	assert.Equal(t, []string{"pricing", "enterprise"}, themes(t, store, "s1")[0].Tags)
}
