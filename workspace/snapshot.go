package workspace

import (
	"fmt"
	"io"
	"os"

	"github.com/gobwas/glob"
	"github.com/zeebo/blake3"
)

// HashFile returns the hex blake3 hash and size of a file's content.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	hasher := blake3.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), n, nil
}

// CompileExcludes compiles exclusion patterns supplied by the external
// loader. Patterns match workspace-relative slash paths with the same
// segment-scoped glob rules the policy engine uses.
func CompileExcludes(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclusion pattern %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

func excluded(relPath string, excludes []glob.Glob) bool {
	for _, g := range excludes {
		if g.Match(relPath) {
			return true
		}
	}
	return false
}
