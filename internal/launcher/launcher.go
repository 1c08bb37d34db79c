// Package launcher runs an external texture compression tool (PVRTexTool,
// Crunch, astcenc, ...) as a child process and turns its exit code into a
// single outcome.
package launcher

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"texlaunch/internal/joblog"
	"texlaunch/internal/toolflags"
	"time"

	"github.com/google/uuid"
)

// Request carries the parsed command line arguments of one launch.
type Request struct {
	Verbose bool
	Flags   toolflags.Options // raw user flags; empty means none
}

// DirectoryResolver looks up the directory holding the tool executables.
type DirectoryResolver interface {
	BinaryDirectory(ctx context.Context) (string, error)
}

// StaticDir is a DirectoryResolver that always returns itself.
type StaticDir string

func (d StaticDir) BinaryDirectory(context.Context) (string, error) {
	return string(d), nil
}

// Recorder receives one entry per spawned tool. *joblog.Logger implements it.
type Recorder interface {
	Log(entry joblog.Entry) error
}

// Options configures a Launcher.
type Options struct {
	Resolver DirectoryResolver
	Runner   Runner    // default LocalRunner
	Console  io.Writer // verbose output sink, default os.Stdout
	Logger   *log.Logger
	Recorder Recorder

	Style          toolflags.Style
	Timeout        time.Duration // 0 means no limit
	EnvPassthrough []string
	WorkDir        string

	Tool    string // profile name, for records only
	Runtime string // runtime name, for records only
}

// Launcher spawns compression tools. It holds no per-launch state and is
// safe for concurrent use.
type Launcher struct {
	resolver       DirectoryResolver
	runner         Runner
	console        io.Writer
	logger         *log.Logger
	recorder       Recorder
	style          toolflags.Style
	timeout        time.Duration
	envPassthrough []string
	workDir        string
	tool           string
	runtime        string
}

// New creates a Launcher from opts.
func New(opts Options) *Launcher {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[launcher] ", log.LstdFlags|log.Lmsgprefix)
	}
	if opts.Runner == nil {
		opts.Runner = LocalRunner{}
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.Runtime == "" {
		opts.Runtime = "local"
	}

	return &Launcher{
		resolver:       opts.Resolver,
		runner:         opts.Runner,
		console:        newSyncWriter(opts.Console),
		logger:         opts.Logger,
		recorder:       opts.Recorder,
		style:          opts.Style,
		timeout:        opts.Timeout,
		envPassthrough: opts.EnvPassthrough,
		workDir:        opts.WorkDir,
		tool:           opts.Tool,
		runtime:        opts.Runtime,
	}
}

// BuildFlags returns baseFlags followed by the tokens derived from opts.
// The result never aliases baseFlags.
func BuildFlags(baseFlags []string, opts toolflags.Options, style toolflags.Style) []string {
	flags := make([]string, 0, len(baseFlags)+2*len(opts))
	flags = append(flags, baseFlags...)
	if len(opts) > 0 {
		flags = append(flags, toolflags.SplitFlagAndValue(toolflags.CreateFlagsForTool(opts, style))...)
	}
	return flags
}

// Launch runs binaryName from the binary directory and blocks until it
// exits. A zero exit code returns nil; any other code returns a
// *NonZeroExitError.
func (l *Launcher) Launch(ctx context.Context, req Request, baseFlags []string, binaryName string) error {
	job, err := l.Start(ctx, req, baseFlags, binaryName)
	if err != nil {
		return err
	}
	return job.Wait()
}

// Start spawns the tool and returns without waiting for it. Errors before
// the process exists (lookup, spawn) are returned directly; everything
// after that is reported through the Job.
func (l *Launcher) Start(ctx context.Context, req Request, baseFlags []string, binaryName string) (*Job, error) {
	binDir, err := l.binaryDirectory(ctx)
	if err != nil {
		return nil, err
	}

	toolPath := filepath.Join(binDir, binaryName)
	flags := BuildFlags(baseFlags, req.Flags, l.style)

	if req.Verbose {
		fmt.Fprintf(l.console, "Using flags: %s\n", strings.Join(flags, " "))
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if l.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, l.timeout)
	}

	cmd := Command{
		Path: toolPath,
		Args: flags,
		Env:  buildEnv(binDir, l.envPassthrough, os.LookupEnv),
		Dir:  l.workDir,
	}
	if req.Verbose {
		cmd.Output = l.console
	}

	job := newJob(uuid.NewString(), toolPath, flags)
	l.logger.Printf("[%s] launch: %s %v", shortID(job.ID), toolPath, flags)

	started := time.Now()
	proc, err := l.runner.Start(runCtx, cmd)
	if err != nil {
		cancel()
		err = fmt.Errorf("start compression tool: %w", err)
		l.record(job, binDir, Result{ExitCode: -1}, started, err)
		return nil, err
	}

	go func() {
		defer cancel()
		res, waitErr := proc.Wait()
		outcome := l.outcome(runCtx, res, waitErr)
		l.record(job, binDir, res, started, outcome)
		job.complete(outcome)
	}()

	return job, nil
}

func (l *Launcher) binaryDirectory(ctx context.Context) (string, error) {
	if l.resolver == nil {
		return "", ErrBinaryDirectoryUnresolved
	}
	dir, err := l.resolver.BinaryDirectory(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve binary directory: %w", err)
	}
	if dir == "" {
		return "", ErrBinaryDirectoryUnresolved
	}
	return dir, nil
}

// outcome maps how the process ended to the launch result.
func (l *Launcher) outcome(runCtx context.Context, res Result, waitErr error) error {
	// A killed tool reports a signal; the cause is the context.
	if ctxErr := runCtx.Err(); ctxErr != nil && (waitErr != nil || res.ExitCode != 0 || res.Signal != "") {
		if ctxErr == context.DeadlineExceeded && l.timeout > 0 {
			return fmt.Errorf("compression tool killed after %v: %w", l.timeout, ctxErr)
		}
		return fmt.Errorf("compression tool interrupted: %w", ctxErr)
	}
	if waitErr != nil {
		return fmt.Errorf("compression tool: %w", waitErr)
	}
	if res.Signal != "" {
		return &NonZeroExitError{Code: -1, Signal: res.Signal}
	}
	if res.ExitCode != 0 {
		return &NonZeroExitError{Code: res.ExitCode}
	}
	return nil
}

func (l *Launcher) record(job *Job, binDir string, res Result, started time.Time, outcome error) {
	duration := time.Since(started)
	if outcome != nil {
		l.logger.Printf("[%s] failed after %v: %v", shortID(job.ID), duration.Round(time.Millisecond), outcome)
	} else {
		l.logger.Printf("[%s] finished in %v", shortID(job.ID), duration.Round(time.Millisecond))
	}

	if l.recorder == nil {
		return
	}

	entry := joblog.Entry{
		ID:       job.ID,
		Tool:     l.tool,
		Binary:   filepath.Base(job.Path),
		Args:     job.Args,
		BinDir:   binDir,
		Runtime:  l.runtime,
		ExitCode: res.ExitCode,
		Duration: float64(duration.Milliseconds()),
	}
	if outcome != nil {
		entry.Error = outcome.Error()
	}
	if err := l.recorder.Log(entry); err != nil {
		l.logger.Printf("[%s] warning: could not record job: %v", shortID(job.ID), err)
	}
}

// shortID returns the first 8 characters of a job ID.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
