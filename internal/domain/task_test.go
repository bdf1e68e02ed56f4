package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	task, err := NewTask("video-pro-1.5", "a lighthouse in a storm", 8, "16:9", "key-abc")
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.Equal(t, TaskStatusQueued, task.Status)
	assert.Equal(t, "video-pro-1.5", task.Model)
	assert.Equal(t, 8, task.DurationSecs)
	assert.Equal(t, "16:9", task.AspectRatio)
	assert.Equal(t, "key-abc", task.OwnerReference)
	assert.Nil(t, task.SessionID)
	assert.Equal(t, 0, task.RetryCount)
}

func TestNewTaskDefaults(t *testing.T) {
	task, err := NewTask("", "a lighthouse in a storm", 0, "", "")
	require.NoError(t, err)

	assert.Equal(t, DefaultModel, task.Model)
	assert.Equal(t, DefaultDurationSecs, task.DurationSecs)
	assert.Equal(t, DefaultAspectRatio, task.AspectRatio)
}

func TestNewTaskEmptyPrompt(t *testing.T) {
	_, err := NewTask("video-pro-1.5", "", 4, "9:16", "")
	assert.ErrorIs(t, err, ErrEmptyTaskPrompt)
}

func TestNewTaskRejectsUnknownAspectRatio(t *testing.T) {
	for _, ratio := range []string{"2:1", "16x9", "wide"} {
		_, err := NewTask("video-pro-1.5", "a lighthouse in a storm", 4, ratio, "")
		assert.ErrorIs(t, err, ErrInvalidAspectRatio, ratio)
	}

	for _, ratio := range []string{"16:9", "9:16", "1:1", "4:3", "3:4", "21:9"} {
		_, err := NewTask("video-pro-1.5", "a lighthouse in a storm", 4, ratio, "")
		assert.NoError(t, err, ratio)
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	assert.True(t, TaskStatusSucceeded.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.True(t, TaskStatusCancelled.IsTerminal())

	assert.False(t, TaskStatusQueued.IsTerminal())
	assert.False(t, TaskStatusSubmitting.IsTerminal())
	assert.False(t, TaskStatusPolling.IsTerminal())
	assert.False(t, TaskStatusDownloading.IsTerminal())
}

func TestTaskStatusIsActive(t *testing.T) {
	assert.True(t, TaskStatusSubmitting.IsActive())
	assert.True(t, TaskStatusPolling.IsActive())
	assert.True(t, TaskStatusDownloading.IsActive())

	assert.False(t, TaskStatusQueued.IsActive())
	assert.False(t, TaskStatusSucceeded.IsActive())
	assert.False(t, TaskStatusFailed.IsActive())
	assert.False(t, TaskStatusCancelled.IsActive())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    TaskStatus
		to      TaskStatus
		allowed bool
	}{
		{"queued to submitting", TaskStatusQueued, TaskStatusSubmitting, true},
		{"submitting to polling", TaskStatusSubmitting, TaskStatusPolling, true},
		{"submitting to failed", TaskStatusSubmitting, TaskStatusFailed, true},
		{"polling stays polling", TaskStatusPolling, TaskStatusPolling, true},
		{"polling to downloading", TaskStatusPolling, TaskStatusDownloading, true},
		{"polling to failed", TaskStatusPolling, TaskStatusFailed, true},
		{"downloading to succeeded", TaskStatusDownloading, TaskStatusSucceeded, true},
		{"downloading to failed", TaskStatusDownloading, TaskStatusFailed, true},

		{"no phase skipping", TaskStatusQueued, TaskStatusPolling, false},
		{"no submit to succeeded", TaskStatusSubmitting, TaskStatusSucceeded, false},
		{"no reordering", TaskStatusDownloading, TaskStatusPolling, false},

		{"cancel from queued", TaskStatusQueued, TaskStatusCancelled, true},
		{"cancel from polling", TaskStatusPolling, TaskStatusCancelled, true},
		{"cancel from downloading", TaskStatusDownloading, TaskStatusCancelled, true},
		{"no cancel of succeeded", TaskStatusSucceeded, TaskStatusCancelled, false},
		{"no cancel of cancelled", TaskStatusCancelled, TaskStatusCancelled, false},

		{"retry failed", TaskStatusFailed, TaskStatusQueued, true},
		{"retry succeeded", TaskStatusSucceeded, TaskStatusQueued, true},
		{"retry cancelled", TaskStatusCancelled, TaskStatusQueued, true},
		{"no requeue of running task", TaskStatusPolling, TaskStatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTaskStatusIsValid(t *testing.T) {
	for _, s := range []TaskStatus{
		TaskStatusQueued, TaskStatusSubmitting, TaskStatusPolling,
		TaskStatusDownloading, TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled,
	} {
		assert.True(t, s.IsValid(), string(s))
	}
	assert.False(t, TaskStatus("pending").IsValid())
	assert.False(t, TaskStatus("").IsValid())
}
