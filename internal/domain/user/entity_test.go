package user

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProfile_RecordActivity(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := NewProfile("u1")

	assert.Equal(t, StreakStarted, p.RecordActivity(day1, time.UTC))
	assert.Equal(t, StreakUnchanged, p.RecordActivity(day1.Add(5*time.Hour), time.UTC))
	assert.Equal(t, StreakExtended, p.RecordActivity(day1.Add(24*time.Hour), time.UTC))
	assert.Equal(t, StreakExtended, p.RecordActivity(day1.Add(48*time.Hour), time.UTC))
	assert.Equal(t, 3, p.CurrentStreak)
	assert.Equal(t, StreakUnchanged, p.RecordActivity(day1, time.UTC))

	assert.Equal(t, StreakReset, p.RecordActivity(day1.Add(5*24*time.Hour), time.UTC))
	assert.Equal(t, 1, p.CurrentStreak)
	assert.Equal(t, 3, p.BestStreak)
}

func TestProfile_SetBalance(t *testing.T) {
	p := NewProfile("u1")
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	assert.True(t, p.SetBalance(decimal.NewFromInt(50), at))
	assert.False(t, p.SetBalance(decimal.RequireFromString("50.00"), at))
}
