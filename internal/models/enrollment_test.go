package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from EnrollmentStatus
		to   EnrollmentStatus
		want bool
	}{
		{"pending to active", EnrollmentStatusPending, EnrollmentStatusActive, true},
		{"pending to cancelled", EnrollmentStatusPending, EnrollmentStatusCancelled, true},
		{"pending to completed", EnrollmentStatusPending, EnrollmentStatusCompleted, false},
		{"active to pending", EnrollmentStatusActive, EnrollmentStatusPending, true},
		{"active to cancelled", EnrollmentStatusActive, EnrollmentStatusCancelled, true},
		{"active to completed", EnrollmentStatusActive, EnrollmentStatusCompleted, true},
		{"cancelled is terminal", EnrollmentStatusCancelled, EnrollmentStatusPending, false},
		{"completed is terminal", EnrollmentStatusCompleted, EnrollmentStatusActive, false},
		{"legacy reenrollment marker has no exits", EnrollmentStatusReenrollment, EnrollmentStatusActive, false},
		{"legacy contract marker has no exits", EnrollmentStatusContract, EnrollmentStatusActive, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestEnrollmentStatusIsLive(t *testing.T) {
	assert.True(t, EnrollmentStatusPending.IsLive())
	assert.True(t, EnrollmentStatusActive.IsLive())
	assert.True(t, EnrollmentStatusContract.IsLive())
	assert.False(t, EnrollmentStatusCancelled.IsLive())
	assert.False(t, EnrollmentStatusCompleted.IsLive())
	assert.False(t, EnrollmentStatusReenrollment.IsLive())
}

func TestEnrollmentStatusIsTerminal(t *testing.T) {
	assert.True(t, EnrollmentStatusCancelled.IsTerminal())
	assert.True(t, EnrollmentStatusCompleted.IsTerminal())
	assert.False(t, EnrollmentStatusPending.IsTerminal())
	assert.False(t, EnrollmentStatusActive.IsTerminal())
}
