package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminalRunStatus(t *testing.T) {
	for _, s := range []string{RunStatusSucceeded, RunStatusPartial, RunStatusFailed, RunStatusCancelled} {
		assert.True(t, IsTerminalRunStatus(s), s)
	}
	for _, s := range []string{RunStatusPending, RunStatusExtracting, RunStatusMapping,
		RunStatusNormalizing, RunStatusAggregating, RunStatusLoading, RunStatusValidating, ""} {
		assert.False(t, IsTerminalRunStatus(s), s)
	}
}

func TestIsTerminalAuditStatus(t *testing.T) {
	assert.False(t, IsTerminalAuditStatus(AuditStatusStarted))
	assert.True(t, IsTerminalAuditStatus(AuditStatusSuccess))
	assert.True(t, IsTerminalAuditStatus(AuditStatusFailed))
	assert.True(t, IsTerminalAuditStatus(AuditStatusSkipped))
}

func TestCanonicalFields(t *testing.T) {
	assert.True(t, IsCanonicalField(FieldBudgetAmount))
	assert.True(t, IsCanonicalField(FieldAccountCode))
	assert.False(t, IsCanonicalField("amount"))

	assert.True(t, IsRequiredField(FieldBudgetItem))
	assert.True(t, IsRequiredField(FieldBudgetAmount))
	assert.False(t, IsRequiredField(FieldDepartment))
}
