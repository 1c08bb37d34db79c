// Package config loads the texlaunch YAML configuration: where the
// compression tools live, how they are run, and one profile per tool.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Runtime selects how compression tools are executed.
type Runtime string

const (
	RuntimeLocal  Runtime = "local"
	RuntimeDocker Runtime = "docker"
)

func (r Runtime) String() string {
	return string(r)
}

// DefaultDockerImage is used by the docker runtime when none is configured.
const DefaultDockerImage = "debian:bookworm-slim"

// Tool is the profile of a single compression tool.
type Tool struct {
	Binary     string        `yaml:"binary"`
	FlagPrefix string        `yaml:"flag_prefix,omitempty"`
	Base       []string      `yaml:"base_flags,omitempty"` // may contain {input} and {output}
	Extensions []string      `yaml:"extensions,omitempty"` // source files picked up by watch mode
	OutputExt  string        `yaml:"output_ext,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"` // overrides default_timeout
}

// Config is the top-level configuration.
type Config struct {
	BinDir         string          `yaml:"bin_dir,omitempty"`
	DefaultTimeout time.Duration   `yaml:"default_timeout,omitempty"` // 0 disables the limit
	Runtime        Runtime         `yaml:"runtime,omitempty"`
	DockerImage    string          `yaml:"docker_image,omitempty"`
	EnvPassthrough []string        `yaml:"env_passthrough,omitempty"`
	JobLog         string          `yaml:"job_log,omitempty"`
	Tools          map[string]Tool `yaml:"tools"`
}

// Load reads a configuration from a YAML file and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration with profiles for the common
// texture compression tools.
func Default() *Config {
	cfg := &Config{
		Tools: map[string]Tool{
			"pvrtextool": {
				Binary:     "PVRTexToolCLI",
				FlagPrefix: "-",
				Base:       []string{"-i", "{input}", "-o", "{output}"},
				Extensions: []string{".png", ".jpg", ".jpeg"},
				OutputExt:  ".pvr",
			},
			"crunch": {
				Binary:     "crunch",
				FlagPrefix: "-",
				Base:       []string{"-file", "{input}", "-out", "{output}", "-quiet"},
				Extensions: []string{".png", ".jpg", ".jpeg", ".tga", ".bmp"},
				OutputExt:  ".crn",
			},
			"astcenc": {
				Binary:     "astcenc",
				FlagPrefix: "-",
				Base:       []string{"-cl", "{input}", "{output}", "6x6", "-medium"},
				Extensions: []string{".png", ".jpg", ".jpeg", ".tga"},
				OutputExt:  ".astc",
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Runtime == "" {
		c.Runtime = RuntimeLocal
	}
	if c.Runtime == RuntimeDocker && c.DockerImage == "" {
		c.DockerImage = DefaultDockerImage
	}
	tools := make(map[string]Tool, len(c.Tools))
	for name, tool := range c.Tools {
		tools[strings.ToLower(name)] = tool
	}
	c.Tools = tools
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	switch c.Runtime {
	case RuntimeLocal, RuntimeDocker:
	default:
		return fmt.Errorf("unknown runtime %q (want %q or %q)", c.Runtime, RuntimeLocal, RuntimeDocker)
	}

	if c.Runtime == RuntimeDocker && c.DockerImage == "" {
		return fmt.Errorf("runtime %q requires docker_image", RuntimeDocker)
	}

	if c.DefaultTimeout < 0 {
		return fmt.Errorf("default_timeout must not be negative")
	}

	for name, tool := range c.Tools {
		if tool.Binary == "" {
			return fmt.Errorf("tool %q: binary is required", name)
		}
		if strings.ContainsAny(tool.Binary, `/\`) {
			return fmt.Errorf("tool %q: binary %q must be a plain file name", name, tool.Binary)
		}
		if tool.Timeout < 0 {
			return fmt.Errorf("tool %q: timeout must not be negative", name)
		}
	}

	return nil
}

// Tool returns the profile registered under name.
func (c *Config) Tool(name string) (Tool, error) {
	tool, ok := c.Tools[strings.ToLower(name)]
	if !ok {
		return Tool{}, fmt.Errorf("unknown tool %q (configured: %s)", name, strings.Join(c.ToolNames(), ", "))
	}
	return tool, nil
}

// ToolNames returns the configured tool names in sorted order.
func (c *Config) ToolNames() []string {
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TimeoutFor returns the effective timeout for a tool.
func (c *Config) TimeoutFor(tool Tool) time.Duration {
	if tool.Timeout > 0 {
		return tool.Timeout
	}
	return c.DefaultTimeout
}

// BaseFlags expands the {input} and {output} placeholders in the profile's
// base flags.
func (t Tool) BaseFlags(input, output string) []string {
	r := strings.NewReplacer("{input}", input, "{output}", output)
	flags := make([]string, 0, len(t.Base))
	for _, f := range t.Base {
		flags = append(flags, r.Replace(f))
	}
	return flags
}

// Accepts reports whether a source file with the given name is handled by
// this profile.
func (t Tool) Accepts(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range t.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
