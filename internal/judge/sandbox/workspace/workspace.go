// Package workspace allocates and removes the per-run scratch files.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	appErr "codelab/pkg/errors"
	"codelab/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	sourceSuffix = ".cpp"
	outputSuffix = ".txt"

	defaultMaxAttempts = 8
)

// Workspace holds the three scratch paths owned by one run.
type Workspace struct {
	ID         string
	SourcePath string
	BinaryPath string
	OutputPath string
}

// Paths returns every artifact path in the workspace.
func (w *Workspace) Paths() []string {
	return []string{w.SourcePath, w.BinaryPath, w.OutputPath}
}

// Manager stages workspaces under a single scratch directory.
type Manager struct {
	root        string
	maxAttempts int
	newToken    func() string
}

// NewManager creates the scratch directory if needed.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "codelab")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.StagingFailed, "create scratch dir %s", root)
	}
	return &Manager{
		root:        root,
		maxAttempts: defaultMaxAttempts,
		newToken:    defaultToken,
	}, nil
}

// Root returns the scratch directory.
func (m *Manager) Root() string {
	return m.root
}

func defaultToken() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString())
}

// Stage reserves a fresh set of paths. The source path is created exclusively,
// so two concurrent runs can never share a token.
func (m *Manager) Stage(ctx context.Context) (*Workspace, error) {
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, appErr.Wrap(err, appErr.StagingFailed)
		}
		id := m.newToken()
		ws := m.layout(id)
		f, err := os.OpenFile(ws.SourcePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if errors.Is(err, fs.ErrExist) {
			logger.Debug(ctx, "workspace token collision", zap.String("token", id))
			continue
		}
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.StagingFailed, "reserve source file")
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(ws.SourcePath)
			return nil, appErr.Wrapf(err, appErr.StagingFailed, "reserve source file")
		}
		return ws, nil
	}
	return nil, appErr.Newf(appErr.StagingFailed, "no free workspace token after %d attempts", m.maxAttempts)
}

func (m *Manager) layout(id string) *Workspace {
	base := filepath.Join(m.root, id)
	return &Workspace{
		ID:         id,
		SourcePath: base + sourceSuffix,
		BinaryPath: base + binarySuffix(),
		OutputPath: base + outputSuffix,
	}
}

func binarySuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ".out"
}

// Destroy removes every artifact of ws. Failures are logged and swallowed.
func (m *Manager) Destroy(ctx context.Context, ws *Workspace) {
	if ws == nil {
		return
	}
	for _, path := range ws.Paths() {
		err := os.Remove(path)
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug(ctx, "workspace artifact already absent", zap.String("path", path))
		default:
			logger.Warn(ctx, "remove workspace artifact failed", zap.String("path", path), zap.Error(err))
		}
	}
}

// With stages a workspace, runs fn and destroys the workspace on every exit path.
func (m *Manager) With(ctx context.Context, fn func(ws *Workspace) error) error {
	ws, err := m.Stage(ctx)
	if err != nil {
		return err
	}
	defer m.Destroy(ctx, ws)
	return fn(ws)
}
