package model

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordExecution(t *testing.T) {
	setupModelDB(t)
	exec := &Execution{
		ProjectId:    uuid.NewString(),
		TeamId:       uuid.NewString(),
		Provider:     "openai",
		Model:        "gpt-4o",
		PromptTokens: 10,
		TotalTokens:  15,
		ResponseCode: 200,
	}
	RecordExecution(context.Background(), exec)
	assert.NotEmpty(t, exec.Id, "id is assigned when empty")

	var stored Execution
	require.NoError(t, DB.Where("id = ?", exec.Id).First(&stored).Error)
	assert.Equal(t, "gpt-4o", stored.Model)
	assert.Equal(t, 15, stored.TotalTokens)
	assert.NotZero(t, stored.CreatedAt)
}

func TestListExecutions(t *testing.T) {
	setupModelDB(t)
	projectId := uuid.NewString()

	// Explicit timestamps pin the newest-first ordering.
	for i, created := range []int64{1000, 3000, 2000} {
		RecordExecution(context.Background(), &Execution{
			ProjectId:    projectId,
			Provider:     "openai",
			Model:        "gpt-4o",
			ResponseCode: 200 + i,
			CreatedAt:    created,
		})
	}

	executions, err := ListExecutions(context.Background(), projectId, 2)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, int64(3000), executions[0].CreatedAt)
	assert.Equal(t, int64(2000), executions[1].CreatedAt)

	// Out-of-range limits clamp instead of failing.
	all, err := ListExecutions(context.Background(), projectId, -5)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := ListExecutions(context.Background(), uuid.NewString(), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
