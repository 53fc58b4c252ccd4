// Package config loads agentshell's YAML configuration.
//
// The file lives at paths.ConfigFilePath() unless an explicit path is given.
// A missing file is not an error: every field has a default, so an empty
// config runs the agent found in the current directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/agentshell/paths"
)

// Environment overrides.
const (
	// DefaultInterpreterEnv names the variable holding an explicit interpreter
	// path. It always takes precedence over the built-in candidate list.
	DefaultInterpreterEnv = "AGENTSHELL_INTERPRETER"

	// AgentDirEnv overrides agent.dir.
	AgentDirEnv = "AGENTSHELL_AGENT_DIR"
)

// Defaults applied to zero-valued fields.
const (
	DefaultScript         = "main.py"
	DefaultStopGrace      = 1500 * time.Millisecond
	DefaultNudgeDelay     = 500 * time.Millisecond
	DefaultWindowMargin   = 20
	DefaultVoiceEndMarker = "Returning to text mode."
)

// Size is a window size in screen points.
type Size struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Config holds the application configuration
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	Output  OutputConfig  `yaml:"output,omitempty"`
	Voice   VoiceConfig   `yaml:"voice,omitempty"`
	Windows WindowsConfig `yaml:"windows,omitempty"`

	SocketPath string `yaml:"socket_path,omitempty"` // IPC socket (default: paths.SocketPath())
	Debug      bool   `yaml:"debug,omitempty"`       // Debug-level logging

	filePath string
}

// AgentConfig describes how the external agent process is launched.
type AgentConfig struct {
	Dir            string            `yaml:"dir"`                       // Agent project root, also the working directory
	Script         string            `yaml:"script"`                    // Entry script, relative to Dir
	Args           []string          `yaml:"args,omitempty"`            // Extra script arguments
	Env            map[string]string `yaml:"env,omitempty"`             // Extra environment for the child
	InterpreterEnv string            `yaml:"interpreter_env,omitempty"` // Name of the interpreter override variable
	AutoStart      bool              `yaml:"autostart,omitempty"`       // Start the agent when the shell starts
	StopGrace      time.Duration     `yaml:"stop_grace,omitempty"`      // Time between terminate and kill
}

// OutputConfig tunes stderr classification.
type OutputConfig struct {
	// BenignPatterns are regular expressions for expected stderr chatter.
	// They are added to the built-in set, not replacing it.
	BenignPatterns []string `yaml:"benign_patterns,omitempty"`

	// VoiceEndMarkers are stdout lines the agent prints when a voice session
	// ends on its own (timeout or interrupt).
	VoiceEndMarkers []string `yaml:"voice_end_markers,omitempty"`
}

// VoiceConfig holds voice-mode timing.
type VoiceConfig struct {
	NudgeDelay     time.Duration `yaml:"nudge_delay,omitempty"`      // Delay before the blank-line nudge after opening the interaction window
	AutoStartDelay time.Duration `yaml:"auto_start_delay,omitempty"` // Start voice this long after the agent starts (0 disables)
}

// WindowsConfig holds window geometry.
type WindowsConfig struct {
	Margin      int  `yaml:"margin,omitempty"`
	Indicator   Size `yaml:"indicator,omitempty"`
	Interaction Size `yaml:"interaction,omitempty"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the config from path, or from the default location when path
// is empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := paths.ConfigFilePath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := &Config{filePath: path}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if dir := os.Getenv(AgentDirEnv); dir != "" {
		c.Agent.Dir = dir
	}
}

// applyDefaults fills zero-valued fields.
func (c *Config) applyDefaults() {
	if c.Agent.Dir == "" {
		c.Agent.Dir = "."
	}
	if abs, err := filepath.Abs(c.Agent.Dir); err == nil {
		c.Agent.Dir = abs
	}
	if c.Agent.Script == "" {
		c.Agent.Script = DefaultScript
	}
	if c.Agent.InterpreterEnv == "" {
		c.Agent.InterpreterEnv = DefaultInterpreterEnv
	}
	if c.Agent.StopGrace == 0 {
		c.Agent.StopGrace = DefaultStopGrace
	}
	if c.Output.VoiceEndMarkers == nil {
		c.Output.VoiceEndMarkers = []string{DefaultVoiceEndMarker}
	}
	if c.Voice.NudgeDelay == 0 {
		c.Voice.NudgeDelay = DefaultNudgeDelay
	}
	if c.Windows.Margin == 0 {
		c.Windows.Margin = DefaultWindowMargin
	}
	if c.Windows.Indicator == (Size{}) {
		c.Windows.Indicator = Size{Width: 64, Height: 64}
	}
	if c.Windows.Interaction == (Size{}) {
		c.Windows.Interaction = Size{Width: 420, Height: 640}
	}
	if c.SocketPath == "" {
		c.SocketPath = paths.SocketPath()
	}
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	if c.Agent.Script == "" {
		return fmt.Errorf("agent.script must not be empty")
	}
	if c.Agent.StopGrace < 0 {
		return fmt.Errorf("agent.stop_grace must not be negative, got %s", c.Agent.StopGrace)
	}
	if c.Voice.NudgeDelay < 0 {
		return fmt.Errorf("voice.nudge_delay must not be negative, got %s", c.Voice.NudgeDelay)
	}
	if c.Voice.AutoStartDelay < 0 {
		return fmt.Errorf("voice.auto_start_delay must not be negative, got %s", c.Voice.AutoStartDelay)
	}
	for _, pattern := range c.Output.BenignPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid output.benign_patterns entry %q: %w", pattern, err)
		}
	}
	for name, size := range map[string]Size{"indicator": c.Windows.Indicator, "interaction": c.Windows.Interaction} {
		if size.Width <= 0 || size.Height <= 0 {
			return fmt.Errorf("windows.%s size must be positive, got %dx%d", name, size.Width, size.Height)
		}
	}
	return nil
}

// ScriptPath returns the absolute path of the agent entry script.
func (c *Config) ScriptPath() string {
	if filepath.IsAbs(c.Agent.Script) {
		return c.Agent.Script
	}
	return filepath.Join(c.Agent.Dir, c.Agent.Script)
}

// FilePath returns the path the config was loaded from.
func (c *Config) FilePath() string {
	return c.filePath
}

// SetFilePath sets the config file path (for testing).
func (c *Config) SetFilePath(path string) {
	c.filePath = path
}

// Save writes the config to its file path as YAML.
func (c *Config) Save() error {
	if c.filePath == "" {
		p, err := paths.ConfigFilePath()
		if err != nil {
			return err
		}
		c.filePath = p
	}

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.filePath, data, 0644)
}
