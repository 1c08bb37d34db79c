//go:build unix

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// setupTools writes a config with one profile, "fake", backed by a shell
// script that records its argv and exits with $code from the args file name.
func setupTools(t *testing.T, script string) (cfgPath, binDir, workDir string) {
	t.Helper()

	root := t.TempDir()
	binDir = filepath.Join(root, "bin")
	workDir = filepath.Join(root, "work")
	for _, dir := range []string{binDir, workDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	if err := os.WriteFile(filepath.Join(binDir, "faketool"), []byte("#!/bin/sh\n"+script+"\n"), 0755); err != nil {
		t.Fatalf("write tool: %v", err)
	}

	cfgPath = filepath.Join(root, "texlaunch.yaml")
	cfg := fmt.Sprintf(`bin_dir: %s
job_log: %s
tools:
  fake:
    binary: faketool
    flag_prefix: "-"
    base_flags: ["-i", "{input}", "-o", "{output}"]
    extensions: [".png"]
    output_ext: ".pvr"
`, binDir, filepath.Join(root, "jobs.log"))
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return cfgPath, binDir, workDir
}

func TestCompressVerbose(t *testing.T) {
	cfgPath, _, _ := setupTools(t, `echo "$@"`)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"compress", "-c", cfgPath, "-t", "fake", "-v",
		"-i", "in.png", "-o", "out.pvr",
		"-f", "q=pvrtcbest", "-f", "m",
		"--", "-shh",
	}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}

	want := "Using flags: -i in.png -o out.pvr -shh -q pvrtcbest -m\n-i in.png -o out.pvr -shh -q pvrtcbest -m\n"
	if stdout.String() != want {
		t.Errorf("stdout = %q, want %q", stdout.String(), want)
	}
}

func TestCompressQuiet(t *testing.T) {
	cfgPath, _, _ := setupTools(t, `echo "noise"`)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"compress", "-c", cfgPath, "-t", "fake", "-i", "a.png", "-o", "a.pvr"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if stdout.Len() != 0 || stderr.Len() != 0 {
		t.Errorf("expected no output, got stdout=%q stderr=%q", stdout.String(), stderr.String())
	}
}

func TestCompressPropagatesExitCode(t *testing.T) {
	cfgPath, _, _ := setupTools(t, "exit 4")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"compress", "-c", cfgPath, "-t", "fake", "-i", "a.png", "-o", "a.pvr"}, &stdout, &stderr)
	if code != 4 {
		t.Errorf("exit code = %d, want 4", code)
	}
	if !strings.Contains(stderr.String(), "Compression tool exited with error code 4") {
		t.Errorf("stderr = %q", stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	if code := run(context.Background(), []string{"history", "-c", cfgPath}, &stdout, &stderr); code != 0 {
		t.Fatalf("history exit code %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "fake") || !strings.Contains(stdout.String(), "error code 4") {
		t.Errorf("history output missing job:\n%s", stdout.String())
	}
}

func TestCompressErrors(t *testing.T) {
	cfgPath, binDir, _ := setupTools(t, "exit 0")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing tool flag", []string{"compress", "-c", cfgPath}, "--tool is required"},
		{"unknown tool", []string{"compress", "-c", cfgPath, "-t", "nvcompress"}, "unknown tool"},
		{"missing input", []string{"compress", "-c", cfgPath, "-t", "fake", "-o", "x.pvr"}, "--input is required"},
		{"bad flag", []string{"compress", "-c", cfgPath, "-t", "fake", "-f", "=x"}, "empty name"},
		{"missing config", []string{"compress", "-c", filepath.Join(binDir, "nope.yaml"), "-t", "fake"}, "read config file"},
		{"missing binary", []string{"compress", "-c", cfgPath, "-t", "fake", "--bin-dir", t.TempDir(), "-i", "a", "-o", "b"}, "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)
			if code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if !strings.Contains(stderr.String(), tt.wantErr) {
				t.Errorf("stderr %q does not contain %q", stderr.String(), tt.wantErr)
			}
		})
	}
}

func TestToolsListsProfiles(t *testing.T) {
	cfgPath, _, _ := setupTools(t, "exit 0")

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"tools", "-c", cfgPath}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "fake") || !strings.Contains(stdout.String(), "faketool") {
		t.Errorf("tools output:\n%s", stdout.String())
	}
}

func TestToolsDefaultProfilesWithoutConfig(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("TEXLAUNCH_CONFIG", "")

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"tools"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	for _, name := range []string{"pvrtextool", "crunch", "astcenc"} {
		if !strings.Contains(stdout.String(), name) {
			t.Errorf("missing default profile %s in:\n%s", name, stdout.String())
		}
	}
}

func TestUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), nil, &stdout, &stderr); code != 2 {
		t.Errorf("no command: exit code %d, want 2", code)
	}
	if code := run(context.Background(), []string{"explode"}, &stdout, &stderr); code != 2 {
		t.Errorf("unknown command: exit code %d, want 2", code)
	}
	stdout.Reset()
	if code := run(context.Background(), []string{"--help"}, &stdout, &stderr); code != 0 {
		t.Errorf("help: exit code %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "texlaunch compress") {
		t.Errorf("help output:\n%s", stdout.String())
	}
}
