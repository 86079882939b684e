package model

import (
	"context"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/google/uuid"

	"github.com/proxed/gateway/common/logger"
)

// Execution is the accounting record for one relayed request, successful or
// failed. One row is written per relay attempt that reached the gateway's
// forwarding stage.
type Execution struct {
	Id        string `json:"id" gorm:"type:char(36);primaryKey"`
	ProjectId string `json:"project_id" gorm:"type:char(36);index:idx_executions_project_created,priority:1"`
	TeamId    string `json:"team_id" gorm:"type:char(36);index"`

	Provider string `json:"provider" gorm:"type:varchar(16);index"`
	Model    string `json:"model" gorm:"type:varchar(64)"`

	// Request provenance for audit: the caller address and a short prefix of
	// the client key fragment that cannot rebuild the key.
	ClientIP string `json:"client_ip,omitempty" gorm:"type:varchar(45)"`
	KeyId    string `json:"key_id,omitempty" gorm:"type:varchar(12)"`

	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	FinishReason     string `json:"finish_reason" gorm:"type:varchar(32)"`

	// Cost fields are USD estimates derived from published model rates.
	PromptCost     float64 `json:"prompt_cost"`
	CompletionCost float64 `json:"completion_cost"`
	TotalCost      float64 `json:"total_cost"`

	ResponseCode int    `json:"response_code"`
	LatencyMs    int64  `json:"latency_ms" gorm:"bigint"`
	Retries      int    `json:"retries"`
	Streamed     bool   `json:"streamed"`
	ErrorMessage string `json:"error_message,omitempty" gorm:"type:text"`

	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli;index:idx_executions_project_created,priority:2,sort:desc"`
}

// RecordExecution persists one accounting record. Failures are logged and
// swallowed: accounting must never take down a relay that already answered
// the client.
func RecordExecution(ctx context.Context, exec *Execution) {
	if exec.Id == "" {
		exec.Id = uuid.NewString()
	}
	err := guarded(func() error {
		return DB.WithContext(ctx).Create(exec).Error
	})
	if err != nil {
		logger.Logger.Error("failed to record execution",
			zap.String("project_id", exec.ProjectId),
			zap.String("provider", exec.Provider),
			zap.Error(err))
	}
}

// ListExecutions returns a project's most recent accounting records, newest
// first.
func ListExecutions(ctx context.Context, projectId string, limit int) ([]Execution, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var executions []Execution
	err := guarded(func() error {
		return DB.WithContext(ctx).
			Where("project_id = ?", projectId).
			Order("created_at DESC").
			Limit(limit).
			Find(&executions).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "list executions")
	}
	return executions, nil
}
