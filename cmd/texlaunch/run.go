package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"texlaunch/internal/bindir"
	"texlaunch/internal/config"
	"texlaunch/internal/joblog"
	"texlaunch/internal/launcher"
	"texlaunch/internal/toolflags"
	"texlaunch/internal/watch"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
)

const defaultConfigPath = "texlaunch.yaml"

// options holds the parsed command line.
type options struct {
	configPath string
	binDir     string
	verbose    bool
	timeout    time.Duration
	runtime    string
	jobLog     string

	tool   string
	input  string
	output string
	flags  []string
	extra  []string

	dir     string
	outDir  string
	workers int
	limit   int
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `texlaunch - run texture compression tools

Usage:
  texlaunch compress -t <tool> -i <input> -o <output> [-f name=value ...] [-- extra flags]
  texlaunch watch -t <tool> --dir <dir> [--out <dir>] [--workers N]
  texlaunch tools                    List configured tool profiles
  texlaunch history [--limit N]      Show recent launches from the job log

Flags:
`)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options

	fs := flag.NewFlagSet("texlaunch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&opts.configPath, "config", "c", envOr("TEXLAUNCH_CONFIG", defaultConfigPath), "Path to the configuration file")
	fs.StringVar(&opts.binDir, "bin-dir", "", "Directory holding the compression tools (overrides config and $"+bindir.DefaultEnvVar+")")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Print the flags used and stream tool output")
	fs.DurationVar(&opts.timeout, "timeout", 0, "Kill the tool after this duration (0 = config value)")
	fs.StringVar(&opts.runtime, "runtime", "", "Runtime: local, docker (overrides config)")
	fs.StringVar(&opts.jobLog, "job-log", "", "Job log file (overrides config)")
	fs.StringVarP(&opts.tool, "tool", "t", "", "Tool profile name")
	fs.StringVarP(&opts.input, "input", "i", "", "Source image")
	fs.StringVarP(&opts.output, "output", "o", "", "Compressed output file")
	fs.StringArrayVarP(&opts.flags, "flag", "f", nil, "Tool flag NAME=VALUE or NAME (can be repeated)")
	fs.StringVar(&opts.dir, "dir", "", "Directory to watch (watch)")
	fs.StringVar(&opts.outDir, "out", "", "Output directory (watch, default: --dir)")
	fs.IntVar(&opts.workers, "workers", 1, "Concurrent compression jobs (watch)")
	fs.IntVar(&opts.limit, "limit", 20, "Number of entries to show (history)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			usage(stdout, fs)
			return 0
		}
		fmt.Fprintf(stderr, "texlaunch: %v\n", err)
		usage(stderr, fs)
		return 2
	}

	positional := fs.Args()
	if dash := fs.ArgsLenAtDash(); dash >= 0 {
		opts.extra = positional[dash:]
		positional = positional[:dash]
	}
	if len(positional) == 0 {
		usage(stderr, fs)
		return 2
	}

	var err error
	switch positional[0] {
	case "compress":
		err = cmdCompress(ctx, &opts, fs, stdout, stderr)
	case "watch":
		err = cmdWatch(ctx, &opts, fs, stdout, stderr)
	case "tools":
		err = cmdTools(&opts, fs, stdout, stderr)
	case "history":
		err = cmdHistory(&opts, fs, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "texlaunch: unknown command: %s\n", positional[0])
		usage(stderr, fs)
		return 2
	}

	if err != nil {
		fmt.Fprintf(stderr, "texlaunch: %v\n", err)
		return launcher.ExitCode(err)
	}
	return 0
}

// loadConfig reads the config file and applies command line overrides. A
// missing file is only an error when it was asked for explicitly.
func loadConfig(opts *options, fs *flag.FlagSet, logger *log.Logger) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || fs.Changed("config") {
			return nil, err
		}
		logger.Printf("no config at %s, using built-in tool profiles", opts.configPath)
		cfg = config.Default()
	}

	if opts.binDir != "" {
		cfg.BinDir = opts.binDir
	}
	if opts.runtime != "" {
		cfg.Runtime = config.Runtime(opts.runtime)
		if cfg.Runtime == config.RuntimeDocker && cfg.DockerImage == "" {
			cfg.DockerImage = config.DefaultDockerImage
		}
	}
	if opts.jobLog != "" {
		cfg.JobLog = opts.jobLog
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is everything a launch needs, built once per command.
type session struct {
	cfg      *config.Config
	tool     config.Tool
	launcher *launcher.Launcher
	closers  []io.Closer
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i].Close()
	}
}

func newSession(ctx context.Context, opts *options, fs *flag.FlagSet, stdout io.Writer, logger *log.Logger) (*session, error) {
	cfg, err := loadConfig(opts, fs, logger)
	if err != nil {
		return nil, err
	}

	if opts.tool == "" {
		return nil, fmt.Errorf("--tool is required (configured: %s)", strings.Join(cfg.ToolNames(), ", "))
	}
	tool, err := cfg.Tool(opts.tool)
	if err != nil {
		return nil, err
	}

	binDir, err := bindir.NewResolver(cfg.BinDir, logger).BinaryDirectory(ctx)
	if err != nil {
		return nil, err
	}
	if binDir != "" && cfg.Runtime == config.RuntimeLocal {
		if err := bindir.Verify(binDir, tool.Binary); err != nil {
			return nil, err
		}
	}

	s := &session{cfg: cfg, tool: tool}

	var runner launcher.Runner = launcher.LocalRunner{}
	if cfg.Runtime == config.RuntimeDocker {
		dockerRunner, err := launcher.NewDockerRunner(cfg.DockerImage, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, dockerRunner)
		runner = dockerRunner
	}

	jobs, err := joblog.New(cfg.JobLog)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, jobs)

	timeout := cfg.TimeoutFor(tool)
	if opts.timeout > 0 {
		timeout = opts.timeout
	}

	s.launcher = launcher.New(launcher.Options{
		Resolver:       launcher.StaticDir(binDir),
		Runner:         runner,
		Console:        stdout,
		Logger:         logger,
		Recorder:       jobs,
		Style:          toolflags.Style{Prefix: tool.FlagPrefix},
		Timeout:        timeout,
		EnvPassthrough: cfg.EnvPassthrough,
		Tool:           strings.ToLower(opts.tool),
		Runtime:        cfg.Runtime.String(),
	})
	return s, nil
}

func cmdCompress(ctx context.Context, opts *options, fs *flag.FlagSet, stdout, stderr io.Writer) error {
	logger := newLogger(stderr, "[texlaunch] ", opts.verbose)

	userFlags, err := toolflags.Parse(opts.flags)
	if err != nil {
		return err
	}

	s, err := newSession(ctx, opts, fs, stdout, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := requirePlaceholders(s.tool, opts.input, opts.output); err != nil {
		return err
	}

	baseFlags := append(s.tool.BaseFlags(opts.input, opts.output), opts.extra...)
	req := launcher.Request{Verbose: opts.verbose, Flags: userFlags}
	return s.launcher.Launch(ctx, req, baseFlags, s.tool.Binary)
}

func cmdWatch(ctx context.Context, opts *options, fs *flag.FlagSet, stdout, stderr io.Writer) error {
	logger := newLogger(stderr, "[texlaunch] ", true)

	if opts.dir == "" {
		return fmt.Errorf("--dir is required")
	}

	userFlags, err := toolflags.Parse(opts.flags)
	if err != nil {
		return err
	}

	s, err := newSession(ctx, opts, fs, stdout, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	req := launcher.Request{Verbose: opts.verbose, Flags: userFlags}
	w, err := watch.New(watch.Config{
		Dir:       opts.dir,
		OutputDir: opts.outDir,
		OutputExt: s.tool.OutputExt,
		Accept:    s.tool.Accepts,
		Workers:   opts.workers,
		Logger:    newLogger(stderr, "[watch] ", true),
		Job: func(ctx context.Context, input, output string) error {
			baseFlags := append(s.tool.BaseFlags(input, output), opts.extra...)
			return s.launcher.Launch(ctx, req, baseFlags, s.tool.Binary)
		},
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return w.Stop()
}

func cmdTools(opts *options, fs *flag.FlagSet, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(opts, fs, newLogger(stderr, "[texlaunch] ", opts.verbose))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tBINARY\tPREFIX\tEXTENSIONS\tOUTPUT\tTIMEOUT")
	for _, name := range cfg.ToolNames() {
		tool := cfg.Tools[name]
		prefix := tool.FlagPrefix
		if prefix == "" {
			prefix = toolflags.DefaultPrefix
		}
		timeout := "-"
		if t := cfg.TimeoutFor(tool); t > 0 {
			timeout = t.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			name, tool.Binary, prefix, strings.Join(tool.Extensions, ","), orDash(tool.OutputExt), timeout)
	}
	return tw.Flush()
}

func cmdHistory(opts *options, fs *flag.FlagSet, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(opts, fs, newLogger(stderr, "[texlaunch] ", opts.verbose))
	if err != nil {
		return err
	}
	if cfg.JobLog == "" {
		return fmt.Errorf("no job log configured (set job_log or --job-log)")
	}

	entries, err := joblog.Read(cfg.JobLog)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No jobs recorded")
		return nil
	}

	if opts.limit > 0 && len(entries) > opts.limit {
		entries = entries[len(entries)-opts.limit:]
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tID\tTOOL\tEXIT\tDURATION\tERROR")
	for _, e := range entries {
		ts := e.Timestamp
		if parsed, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
			ts = parsed.Local().Format("2006-01-02 15:04:05")
		}
		id := e.ID
		if len(id) > 8 {
			id = id[:8]
		}
		duration := time.Duration(e.Duration * float64(time.Millisecond)).Round(time.Millisecond)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%v\t%s\n", ts, id, orDash(e.Tool), e.ExitCode, duration, orDash(e.Error))
	}
	return tw.Flush()
}

// requirePlaceholders fails when the profile needs a file that was not given.
func requirePlaceholders(tool config.Tool, input, output string) error {
	base := strings.Join(tool.Base, " ")
	if strings.Contains(base, "{input}") && input == "" {
		return fmt.Errorf("--input is required for this tool")
	}
	if strings.Contains(base, "{output}") && output == "" {
		return fmt.Errorf("--output is required for this tool")
	}
	return nil
}

func newLogger(w io.Writer, prefix string, enabled bool) *log.Logger {
	if !enabled {
		w = io.Discard
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmsgprefix)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
