// Package transform rewrites submitted source before it reaches the compiler.
package transform

import (
	"fmt"
	"regexp"
	"strings"
)

// Transformer rewrites source text.
type Transformer interface {
	Transform(source string) string
}

// Identity returns the source unchanged.
type Identity struct{}

func (Identity) Transform(source string) string { return source }

var (
	entryPointPattern = regexp.MustCompile(`\bmain\s*\(`)
	streamUsePattern  = regexp.MustCompile(`\b(cout|cin|cerr|endl)\b`)
)

// CppSnippetWrapper turns a statement-level C++ snippet into a full program.
// Sources that already declare main are left alone.
type CppSnippetWrapper struct{}

func (CppSnippetWrapper) Transform(source string) string {
	if entryPointPattern.MatchString(source) {
		return source
	}

	var (
		header    []string
		body      []string
		hasStream bool
	)
	for _, line := range strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#include"):
			if strings.Contains(trimmed, "<iostream>") || strings.Contains(trimmed, "<bits/stdc++.h>") {
				hasStream = true
			}
			header = append(header, trimmed)
		case strings.HasPrefix(trimmed, "using namespace"):
			header = append(header, trimmed)
		default:
			body = append(body, line)
		}
	}

	if !hasStream && streamUsePattern.MatchString(source) {
		header = append([]string{"#include <iostream>"}, header...)
		if !containsPrefix(header, "using namespace std") {
			header = append(header, "using namespace std;")
		}
	}

	var b strings.Builder
	for _, h := range header {
		b.WriteString(h)
		b.WriteByte('\n')
	}
	b.WriteString("int main() {\n")
	for _, line := range body {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("    return 0;\n}\n")
	return b.String()
}

func containsPrefix(lines []string, prefix string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

// FromName resolves a configured transformer name. An empty name is Identity.
func FromName(name string) (Transformer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "identity":
		return Identity{}, nil
	case "cpp-snippet", "snippet":
		return CppSnippetWrapper{}, nil
	default:
		return nil, fmt.Errorf("unknown transformer %q", name)
	}
}
