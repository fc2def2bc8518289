package service

import (
	"context"
	"time"

	"codelab/internal/common/storage"
	"codelab/internal/judge/sandbox/compare"
	"codelab/internal/judge/sandbox/result"
	appErr "codelab/pkg/errors"
	"codelab/pkg/utils/logger"

	"go.uber.org/zap"
)

// CompareService compares reference and produced outputs.
type CompareService struct {
	storage  storage.ObjectStorage
	bucket   string
	maxBytes int64
}

// NewCompareService creates a compare service. store may be nil, in which
// case only inline comparisons are available.
func NewCompareService(store storage.ObjectStorage, bucket string, maxBytes int64) *CompareService {
	if maxBytes <= 0 {
		maxBytes = compare.DefaultMaxBytes
	}
	return &CompareService{storage: store, bucket: bucket, maxBytes: maxBytes}
}

// CompareText compares two inline outputs.
func (s *CompareService) CompareText(ctx context.Context, expected, actual string) result.ComparisonResult {
	return s.compare(ctx, compare.Text(expected), compare.Text(actual))
}

// CompareObjects compares two stored objects and removes both afterwards.
func (s *CompareService) CompareObjects(ctx context.Context, expectedKey, actualKey string) (result.ComparisonResult, error) {
	if s.storage == nil {
		return result.ComparisonResult{}, appErr.New(appErr.ServiceUnavailable).WithMessage("object storage is not configured")
	}
	if expectedKey == "" || actualKey == "" {
		return result.ComparisonResult{}, appErr.ValidationError("key", "both object keys are required")
	}
	return s.compare(ctx,
		compare.Object{Store: s.storage, Bucket: s.bucket, Key: expectedKey},
		compare.Object{Store: s.storage, Bucket: s.bucket, Key: actualKey},
	), nil
}

func (s *CompareService) compare(ctx context.Context, expected, actual compare.Artifact) result.ComparisonResult {
	start := time.Now()
	res := compare.CompareArtifacts(ctx, expected, actual, s.maxBytes)
	logger.Debug(ctx, "outputs compared",
		zap.String("expected", expected.Name()),
		zap.String("actual", actual.Name()),
		zap.Bool("success", res.Success),
		zap.Bool("different", res.Different),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}
