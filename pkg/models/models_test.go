package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryKeyEquality(t *testing.T) {
	a := NewQueryKey("journal-entries", "u1")
	b := NewQueryKey("journal-entries", "u1")
	c := NewQueryKey("journal-entries", "u2")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, `["journal-entries","u1"]`, a.String())
	assert.Equal(t, "journal-entries", a.Root())
}

func TestQueryKeyDistinguishesTypes(t *testing.T) {
	assert.False(t, NewQueryKey("k", "1").Equal(NewQueryKey("k", 1)))
	assert.False(t, NewQueryKey("k", "true").Equal(NewQueryKey("k", true)))
	assert.True(t, NewQueryKey("k", nil).Equal(NewQueryKey("k", nil)))
}

func TestQueryKeyNumbersCompareByValue(t *testing.T) {
	assert.True(t, NewQueryKey("k", 1).Equal(NewQueryKey("k", int64(1))))
	assert.True(t, NewQueryKey("k", uint8(7)).Equal(NewQueryKey("k", 7.0)))
	assert.Equal(t, NewQueryKey("k", 1).String(), NewQueryKey("k", float64(1)).String())
	assert.False(t, NewQueryKey("k", 1).Equal(NewQueryKey("k", 1.5)))
	assert.False(t, NewQueryKey("k", int32(1)).Equal(NewQueryKey("k", "1")))
}

func TestQueryKeyValidate(t *testing.T) {
	require.NoError(t, NewQueryKey("public-stories", "newest", "all", "").Validate())
	assert.Error(t, NewQueryKey().Validate())
	assert.Error(t, NewQueryKey("k", []string{"x"}).Validate())
	assert.Error(t, NewQueryKey("k", map[string]any{}).Validate())
}

func TestParseRealtimeFilter(t *testing.T) {
	f, err := ParseRealtimeFilter("journal_entries", "user_id=eq.u1")
	require.NoError(t, err)
	assert.Equal(t, RealtimeFilter{Table: "journal_entries", Column: "user_id", Value: "u1"}, f)
	assert.Equal(t, "journal_entries:user_id=eq.u1", f.String())

	f, err = ParseRealtimeFilter("mentalk_sessions", "")
	require.NoError(t, err)
	assert.Equal(t, "mentalk_sessions", f.String())

	_, err = ParseRealtimeFilter("journal_entries", "user_id=gt.3")
	assert.Error(t, err)
	_, err = ParseRealtimeFilter("journal_entries", "=eq.3")
	assert.Error(t, err)
	_, err = ParseRealtimeFilter("", "")
	assert.Error(t, err)
}

func TestRealtimeFilterMatches(t *testing.T) {
	public := EqFilter("journal_entries", "is_public", true)

	assert.True(t, public.Matches("journal_entries", map[string]any{"is_public": true}))
	assert.False(t, public.Matches("journal_entries", map[string]any{"is_public": false}))
	assert.False(t, public.Matches("journal_entries", map[string]any{"is_public": nil}))
	assert.False(t, public.Matches("profiles", map[string]any{"is_public": true}))
	assert.False(t, public.Matches("journal_entries", nil))

	assert.True(t, TableFilter("profiles").Matches("profiles", nil))
}
