package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryType_Valid(t *testing.T) {
	for _, typ := range EntryTypes {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, EntryType("Idea").Valid())
	assert.False(t, EntryType("risk").Valid())
	assert.False(t, EntryType("").Valid())
}

func TestPriority_Valid(t *testing.T) {
	assert.True(t, HighPriority.Valid())
	assert.True(t, LowPriority.Valid())
	assert.False(t, Priority("urgent").Valid())
}

func TestNewEntry_DefaultsToNote(t *testing.T) {
	e := NewEntry("d1", "s1", "u1", "need enterprise pricing")

	assert.Equal(t, NoteEntry, e.Type)
	assert.True(t, e.Unclassified())
	assert.False(t, e.CreatedAt.IsZero())
}
