package watch

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type call struct {
	input, output string
}

func startWatcher(t *testing.T, cfg Config) (*Watcher, chan call) {
	t.Helper()

	calls := make(chan call, 16)
	if cfg.Job == nil {
		cfg.Job = func(ctx context.Context, input, output string) error {
			calls <- call{input, output}
			return nil
		}
	}
	cfg.Debounce = 20 * time.Millisecond
	cfg.Logger = log.New(io.Discard, "", 0)

	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w, calls
}

func acceptPNG(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".png")
}

func TestWatcherCompressesNewFiles(t *testing.T) {
	srcDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")

	_, calls := startWatcher(t, Config{
		Dir:       srcDir,
		OutputDir: outDir,
		OutputExt: ".pvr",
		Accept:    acceptPNG,
	})

	if _, err := os.Stat(outDir); err != nil {
		t.Fatalf("output directory not created: %v", err)
	}

	for _, name := range []string{"notes.txt", ".hidden.png", "diffuse.png"} {
		if err := os.WriteFile(filepath.Join(srcDir, name), []byte("data"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	select {
	case c := <-calls:
		if c.input != filepath.Join(srcDir, "diffuse.png") {
			t.Errorf("input = %q", c.input)
		}
		if c.output != filepath.Join(outDir, "diffuse.pvr") {
			t.Errorf("output = %q", c.output)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for compression job")
	}

	select {
	case c := <-calls:
		t.Errorf("unexpected extra job: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherDebouncesWrites(t *testing.T) {
	srcDir := t.TempDir()
	_, calls := startWatcher(t, Config{Dir: srcDir, OutputExt: ".crn", Accept: acceptPNG})

	path := filepath.Join(srcDir, "normal.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 5; i++ {
		f.Write([]byte("chunk"))
		f.Sync()
		time.Sleep(5 * time.Millisecond)
	}
	f.Close()

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for compression job")
	}

	select {
	case c := <-calls:
		t.Errorf("file compressed more than once: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherIgnoresOwnOutput(t *testing.T) {
	srcDir := t.TempDir()
	_, calls := startWatcher(t, Config{Dir: srcDir, OutputExt: ".pvr"})

	if err := os.WriteFile(filepath.Join(srcDir, "diffuse.pvr"), []byte("compressed"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case c := <-calls:
		t.Errorf("output file was picked up: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherJobErrorsAreNotFatal(t *testing.T) {
	srcDir := t.TempDir()
	calls := make(chan string, 4)

	startWatcher(t, Config{
		Dir:       srcDir,
		OutputExt: ".pvr",
		Accept:    acceptPNG,
		Job: func(ctx context.Context, input, output string) error {
			calls <- filepath.Base(input)
			return errors.New("Compression tool exited with error code 1")
		},
	})

	for _, name := range []string{"a.png", "b.png"} {
		if err := os.WriteFile(filepath.Join(srcDir, name), []byte("data"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		select {
		case got := <-calls:
			if got != name {
				t.Errorf("job for %q, want %q", got, name)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for job on %s", name)
		}
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Job: func(context.Context, string, string) error { return nil }}); err == nil {
		t.Error("expected error for missing directory")
	}
	if _, err := New(Config{Dir: t.TempDir()}); err == nil {
		t.Error("expected error for missing job")
	}
}

func TestOutputPath(t *testing.T) {
	w := &Watcher{cfg: Config{OutputDir: "/out", OutputExt: ".astc"}}
	if got := w.OutputPath("/src/albedo.final.png"); got != "/out/albedo.final.astc" {
		t.Errorf("OutputPath = %q", got)
	}
}
