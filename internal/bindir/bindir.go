// Package bindir locates the directory that holds the texture compression
// tool executables and checks that a tool is actually usable there.
package bindir

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultEnvVar names the environment variable consulted when no directory
// is configured explicitly.
const DefaultEnvVar = "TEXLAUNCH_BIN_DIR"

// Resolver finds the binary directory. Lookup order: Dir, the EnvVar
// environment variable, then bin/<GOOS> next to the running executable.
type Resolver struct {
	Dir    string
	EnvVar string
	Logger *log.Logger

	// executable is swapped in tests.
	executable func() (string, error)
}

// NewResolver returns a Resolver using dir when non-empty.
func NewResolver(dir string, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[bindir] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &Resolver{
		Dir:        dir,
		EnvVar:     DefaultEnvVar,
		Logger:     logger,
		executable: os.Executable,
	}
}

// BinaryDirectory returns the absolute binary directory, or "" when none of
// the candidates resolves. An empty result is not an error here; callers
// decide whether to go on without one.
func (r *Resolver) BinaryDirectory(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if r.Dir != "" {
		return absDir(r.Dir)
	}

	if r.EnvVar != "" {
		if dir := os.Getenv(r.EnvVar); dir != "" {
			return absDir(dir)
		}
	}

	executable := r.executable
	if executable == nil {
		executable = os.Executable
	}
	exe, err := executable()
	if err != nil {
		r.logf("cannot determine executable path: %v", err)
		return "", nil
	}

	candidate := filepath.Join(filepath.Dir(exe), "bin", platformDir(runtime.GOOS))
	if stat, err := os.Stat(candidate); err == nil && stat.IsDir() {
		return candidate, nil
	}

	r.logf("no binary directory found (checked config, $%s, %s)", r.EnvVar, candidate)
	return "", nil
}

// Verify checks that <dir>/<name> exists, is a regular file and is executable.
func Verify(dir, name string) error {
	toolPath := filepath.Join(dir, name)

	stat, err := os.Stat(toolPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("compression tool not found at %s", toolPath)
		}
		return fmt.Errorf("stat compression tool: %w", err)
	}

	if !stat.Mode().IsRegular() {
		return fmt.Errorf("compression tool at %s is not a regular file", toolPath)
	}

	if runtime.GOOS != "windows" && stat.Mode()&0111 == 0 {
		return fmt.Errorf("compression tool at %s is not executable (mode: %o)", toolPath, stat.Mode())
	}

	return nil
}

// platformDir maps GOOS onto the directory names used by packaged installs.
func platformDir(goos string) string {
	if goos == "windows" {
		return "win32"
	}
	return goos
}

func absDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve binary directory %q: %w", dir, err)
	}
	return abs, nil
}

func (r *Resolver) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}
