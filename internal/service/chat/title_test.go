package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inara/internal/codec"
	"inara/internal/models"
	"inara/internal/storage"
)

func mustTurn(t *testing.T, role models.Role, text string) models.Turn {
	t.Helper()
	turn, err := codec.NewTurn(role, text, nil, "", time.Now())
	require.NoError(t, err)
	return turn
}

func TestNeedsTitleTransitions(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	id, err := store.CreateSession(ctx, strPtr("u1"), "")
	require.NoError(t, err)

	require.NoError(t, store.AppendTurn(ctx, id, mustTurn(t, models.RoleUser, "Hello")))
	session, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, NeedsTitle(session), "one turn is not an exchange")

	require.NoError(t, store.AppendTurn(ctx, id, mustTurn(t, models.RoleModel, "Hi there")))
	session, err = store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, NeedsTitle(session))

	require.NoError(t, store.UpdateTitle(ctx, id, "Greeting"))
	require.NoError(t, store.AppendTurn(ctx, id, mustTurn(t, models.RoleUser, "More")))
	session, err = store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, NeedsTitle(session))

	assert.False(t, NeedsTitle(nil))
}

func TestAssignTitleScenario(t *testing.T) {
	store := storage.NewMemoryStore()
	model := &fakeModel{title: "Friendly Greeting"}
	svc := NewService(store, model, nil, nil)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, strPtr("u1"), "")
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(ctx, id, mustTurn(t, models.RoleUser, "Hello")))
	require.NoError(t, store.AppendTurn(ctx, id, mustTurn(t, models.RoleModel, "Hi there")))

	list, err := store.ListUserSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].MessageCount)
	assert.Equal(t, models.DefaultTitle, list[0].Title)

	session, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Friendly Greeting", svc.assignTitle(ctx, session, "Hello", "Hi there"))

	list, err = store.ListUserSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Friendly Greeting", list[0].Title)
}

func TestFallbackTitle(t *testing.T) {
	assert.Equal(t, "Hello world", FallbackTitle("  Hello \n  world "))
	assert.Equal(t, ImageTitle, FallbackTitle("   "))
	assert.Equal(t, strings.Repeat("x", MaxTitleRunes), FallbackTitle(strings.Repeat("x", MaxTitleRunes)))

	long := strings.Repeat("é", MaxTitleRunes+5)
	got := FallbackTitle(long)
	assert.Equal(t, strings.Repeat("é", MaxTitleRunes)+"...", got)
}

func TestCleanTitle(t *testing.T) {
	cases := map[string]string{
		"Chest Pain Workup":                   "Chest Pain Workup",
		"\"Chest Pain Workup\"":               "Chest Pain Workup",
		"\n\n  Title: Sepsis Bundle.\nsecond": "Sepsis Bundle",
		"**Dosing Question**":                 "Dosing Question",
		"# Heading Title":                     "Heading Title",
		"   ":                                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanTitle(in), "input %q", in)
	}

	long := CleanTitle(strings.Repeat("word ", 20))
	assert.LessOrEqual(t, len([]rune(long)), MaxTitleRunes)
}
