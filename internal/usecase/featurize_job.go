package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"FinFeat/internal/domain/models"
	"FinFeat/pkg/queue"
)

var validate = validator.New()

// RequestProcessor runs a build request end to end.
type RequestProcessor interface {
	Process(ctx context.Context, req models.BuildRequest) error
}

// FeaturizeJob handles features.build messages from the Redis queue.
type FeaturizeJob struct {
	proc RequestProcessor
}

func NewFeaturizeJob(proc RequestProcessor) *FeaturizeJob {
	return &FeaturizeJob{proc: proc}
}

func (j *FeaturizeJob) Type() string { return models.JobTypeBuildFeatures }

func (j *FeaturizeJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.Decode[models.BuildRequest](payload)
	if err != nil {
		return fmt.Errorf("featurize payload: %w", err)
	}
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("featurize request: %w", err)
	}
	return j.proc.Process(ctx, req)
}

var _ queue.Job = (*FeaturizeJob)(nil)
