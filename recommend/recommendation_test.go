package recommend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/solventlab/des-agent-go/core"
)

func TestStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusGenerating, StatusPending, true},
		{StatusGenerating, StatusFailed, true},
		{StatusGenerating, StatusProcessing, false},
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, false},
		// Reopening finished recommendations is reserved for
		// BeginProcessing, which carries fresh lab data.
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusProcessing, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusProcessing, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCancelled.Terminal())
	for _, s := range []Status{StatusGenerating, StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestNewID(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 5, 9, 0, time.UTC)
	assert.Equal(t, "REC_20260830_140509_task-42", NewID(now, "task-42"))
}

func TestNewPlaceholder(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	task := core.Task{ID: "t1", Description: "d", TargetMaterial: "lignin"}

	rec := NewPlaceholder(task, now)
	assert.Equal(t, "REC_20260102_030405_t1", rec.ID)
	assert.Equal(t, StatusGenerating, rec.Status)
	assert.Equal(t, Version, rec.Version)
	assert.Equal(t, now, rec.CreatedAt)
	assert.True(t, rec.Formulation.IsZero())
}
