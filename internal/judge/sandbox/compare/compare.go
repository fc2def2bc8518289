// Package compare decides whether two program outputs are equal for grading.
package compare

import (
	"context"
	"strings"
	"unicode"

	"codelab/internal/judge/sandbox/result"
	"codelab/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxBytes bounds how much of one artifact is read.
const DefaultMaxBytes int64 = 16 * 1024 * 1024

// Normalize canonicalizes line endings to \n and strips trailing whitespace
// from every line and from the end of the text.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return strings.TrimRightFunc(strings.Join(lines, "\n"), unicode.IsSpace)
}

// Compare reports whether expected and actual differ after normalization.
func Compare(expected, actual string) result.ComparisonResult {
	return result.ComparisonResult{
		Success:   true,
		Different: Normalize(expected) != Normalize(actual),
	}
}

// CompareArtifacts reads both artifacts concurrently and compares them.
// Both artifacts are released afterwards, whether or not reading succeeded.
func CompareArtifacts(ctx context.Context, expected, actual Artifact, maxBytes int64) result.ComparisonResult {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	defer release(ctx, expected, actual)

	var expectedText, actualText string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		text, err := readAll(gctx, expected, maxBytes)
		expectedText = text
		return err
	})
	g.Go(func() error {
		text, err := readAll(gctx, actual, maxBytes)
		actualText = text
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Warn(ctx, "read comparison artifact failed", zap.Error(err))
		return result.ComparisonResult{Success: false, Error: err.Error()}
	}
	return Compare(expectedText, actualText)
}

func release(ctx context.Context, artifacts ...Artifact) {
	releaseCtx := context.WithoutCancel(ctx)
	for _, a := range artifacts {
		if a == nil {
			continue
		}
		if err := a.Release(releaseCtx); err != nil {
			logger.Warn(ctx, "release comparison artifact failed", zap.String("artifact", a.Name()), zap.Error(err))
		}
	}
}
