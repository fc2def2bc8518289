package compare_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"codelab/internal/judge/sandbox/compare"
)

func TestCompare(t *testing.T) {
	cases := []struct {
		name      string
		expected  string
		actual    string
		different bool
	}{
		{name: "crlf", expected: "a\nb\n", actual: "a\nb\r\n", different: false},
		{name: "extra_line", expected: "a\nb", actual: "a\nb\nc", different: true},
		{name: "trailing_space", expected: "x ", actual: "x", different: false},
		{name: "trailing_tabs_per_line", expected: "1\t\n2  \n", actual: "1\n2", different: false},
		{name: "trailing_blank_lines", expected: "done\n\n\n", actual: "done", different: false},
		{name: "lone_cr", expected: "a\rb", actual: "a\nb", different: false},
		{name: "leading_space", expected: " x", actual: "x", different: true},
		{name: "inner_blank_line", expected: "a\n\nb", actual: "a\nb", different: true},
		{name: "case", expected: "Yes", actual: "yes", different: true},
		{name: "both_empty", expected: "", actual: "\n  \n", different: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := compare.Compare(tc.expected, tc.actual)
			if !res.Success {
				t.Fatalf("compare failed: %s", res.Error)
			}
			if res.Different != tc.different {
				t.Fatalf("different = %v, want %v", res.Different, tc.different)
			}
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestCompareArtifactsReleasesFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "1 2 3\r\n")
	b := writeFile(t, dir, "b.txt", "1 2 3\n")

	res := compare.CompareArtifacts(context.Background(), compare.File{Path: a}, compare.File{Path: b}, 0)
	if !res.Success || res.Different {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, p := range []string{a, b} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s should be removed", p)
		}
	}
}

func TestCompareArtifactsReleasesOnReadFailure(t *testing.T) {
	dir := t.TempDir()
	present := writeFile(t, dir, "present.txt", "ok")
	missing := filepath.Join(dir, "missing.txt")

	res := compare.CompareArtifacts(context.Background(), compare.File{Path: present}, compare.File{Path: missing}, 0)
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.Error == "" {
		t.Fatalf("expected error text")
	}
	if _, err := os.Stat(present); !os.IsNotExist(err) {
		t.Fatalf("readable artifact should still be released")
	}
}

func TestCompareArtifactsRejectsOversizedInput(t *testing.T) {
	res := compare.CompareArtifacts(context.Background(), compare.Text(strings.Repeat("x", 11)), compare.Text("x"), 10)
	if res.Success || !strings.Contains(res.Error, "exceeds") {
		t.Fatalf("unexpected result %+v", res)
	}
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]string
	removed []string
	getErr  error
}

func (f *fakeStore) GetObject(_ context.Context, _, key string) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeStore) RemoveObjects(_ context.Context, _ string, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, keys...)
	for _, k := range keys {
		delete(f.objects, k)
	}
	return nil
}

func TestCompareArtifactsObjects(t *testing.T) {
	store := &fakeStore{objects: map[string]string{"ref": "42\n", "student": "41\n"}}
	res := compare.CompareArtifacts(context.Background(),
		compare.Object{Store: store, Bucket: "outputs", Key: "ref"},
		compare.Object{Store: store, Bucket: "outputs", Key: "student"},
		0,
	)
	if !res.Success || !res.Different {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(store.removed) != 2 {
		t.Fatalf("expected both objects removed, got %v", store.removed)
	}
}

func TestCompareArtifactsObjectReadError(t *testing.T) {
	store := &fakeStore{objects: map[string]string{}, getErr: errors.New("connection refused")}
	res := compare.CompareArtifacts(context.Background(),
		compare.Object{Store: store, Bucket: "outputs", Key: "a"},
		compare.Text("x"),
		0,
	)
	if res.Success || !strings.Contains(res.Error, "connection refused") {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(store.removed) != 1 || store.removed[0] != "a" {
		t.Fatalf("object not released: %v", store.removed)
	}
}
