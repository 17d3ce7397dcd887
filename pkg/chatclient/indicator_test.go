package chatclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndicatorExpiresSilentTypers(t *testing.T) {
	clock := newFakeClock()
	var changes [][]Typer
	ind := NewTypingIndicator(func(ts []Typer) { changes = append(changes, ts) }, clock)

	ind.Apply(TypingEvent{UserID: 8, UserName: "Ben", IsTyping: true})
	require.Equal(t, []Typer{{UserID: 8, UserName: "Ben"}}, ind.Active())

	clock.Advance(2 * time.Second)
	ind.Apply(TypingEvent{UserID: 8, UserName: "Ben", IsTyping: true})
	clock.Advance(2 * time.Second)
	assert.Len(t, ind.Active(), 1, "a refreshed signal restarts the expiry")

	clock.Advance(time.Second)
	assert.Empty(t, ind.Active())
	require.Len(t, changes, 2)
	assert.Empty(t, changes[1])
}

func TestIndicatorClearsOnFalse(t *testing.T) {
	clock := newFakeClock()
	ind := NewTypingIndicator(nil, clock)

	ind.Apply(TypingEvent{UserID: 9, UserName: "Cara", IsTyping: true})
	ind.Apply(TypingEvent{UserID: 8, UserName: "Ben", IsTyping: true})
	assert.Equal(t, []Typer{{UserID: 8, UserName: "Ben"}, {UserID: 9, UserName: "Cara"}}, ind.Active())

	ind.Apply(TypingEvent{UserID: 9, IsTyping: false})
	assert.Equal(t, []Typer{{UserID: 8, UserName: "Ben"}}, ind.Active())

	// the stale timer of the cleared user must not remove a later session
	ind.Apply(TypingEvent{UserID: 9, UserName: "Cara", IsTyping: true})
	clock.Advance(2 * time.Second)
	assert.Len(t, ind.Active(), 2)

	ind.Apply(TypingEvent{UserID: 42, IsTyping: false})
	assert.Len(t, ind.Active(), 2)
}
