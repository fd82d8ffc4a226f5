package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// WaitForever is the fence timeout meaning "block until signaled".
const WaitForever time.Duration = -1

type LogConfig struct {
	Level string `toml:"level"`
}

type RendererConfig struct {
	// Number of descriptor sets allocated per layout, one per frame in flight.
	FramesInFlight uint32 `toml:"frames_in_flight"`
	// Maximum number of outstanding command lists per queue. Zero disables the cap.
	CommandListCap uint32 `toml:"command_list_cap"`
	// Fence wait timeout as a Go duration ("250ms"). Empty or "infinite" waits forever.
	FenceTimeout string `toml:"fence_timeout"`
}

type AssetsConfig struct {
	ShaderDir string `toml:"shader_dir"`
	Watch     bool   `toml:"watch"`
}

type Config struct {
	Log      LogConfig      `toml:"log"`
	Renderer RendererConfig `toml:"renderer"`
	Assets   AssetsConfig   `toml:"assets"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Renderer: RendererConfig{
			FramesInFlight: 3,
			CommandListCap: 0,
			FenceTimeout:   "infinite",
		},
		Assets: AssetsConfig{
			ShaderDir: "assets/shaders",
			Watch:     false,
		},
	}
}

// LoadConfig reads a TOML file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("unable to read config file `%s`: %w", path, err)
		LogError(err.Error())
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes TOML data on top of the defaults and validates it.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		err = fmt.Errorf("unable to decode config: %v: %w", err, ErrConfiguration)
		LogError(err.Error())
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		LogError(err.Error())
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Renderer.FramesInFlight == 0 {
		return fmt.Errorf("renderer.frames_in_flight must be greater than 0: %w", ErrConfiguration)
	}
	if _, err := c.Renderer.Timeout(); err != nil {
		return err
	}
	return nil
}

// Timeout returns the configured fence timeout, or WaitForever.
func (r RendererConfig) Timeout() (time.Duration, error) {
	s := strings.TrimSpace(r.FenceTimeout)
	if s == "" || strings.EqualFold(s, "infinite") {
		return WaitForever, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("renderer.fence_timeout `%s` is not a valid duration: %w", s, ErrConfiguration)
	}
	return d, nil
}
