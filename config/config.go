// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package config loads the configuration of a render
// device from a TOML file and the environment.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"

	"github.com/jjzhang166/SakuraEngine/gpu"
)

// Environment variables that override file settings.
const (
	EnvBackend         = "CGPU_BACKEND"
	EnvDebugLayer      = "CGPU_DEBUG_LAYER"
	EnvGPUValidation   = "CGPU_GPU_VALIDATION"
	EnvResourceNaming  = "CGPU_RESOURCE_NAMING"
	EnvLogLevel        = "CGPU_LOG_LEVEL"
	EnvMaxCopyQueues   = "CGPU_MAX_COPY_QUEUES"
	EnvAuxThreads      = "CGPU_AUX_THREADS"
	EnvEnableTracker   = "CGPU_ENABLE_TRACKER"
	EnvEnableStreaming = "CGPU_ENABLE_STREAMING"
)

// DotEnv is the file of environment variables that Load
// reads, if it exists.
const DotEnv = ".env"

// Instance configures instance creation.
type Instance struct {
	// Name of the backend, matched ignoring case.
	// If no backend matches, every registered backend is
	// tried in order.
	//
	// Default is "", which selects the first backend that
	// loads.
	Backend string `toml:"backend"`

	DebugLayer     bool `toml:"debug_layer"`
	GPUValidation  bool `toml:"gpu_validation"`
	ResourceNaming bool `toml:"resource_naming"`
}

// Device configures device creation.
type Device struct {
	// The maximum number of copy queues.
	//
	// Default is 2.
	MaxCopyQueues int `toml:"max_copy_queues"`

	// The number of auxiliary worker services.
	//
	// Default is 0.
	AuxThreads int `toml:"aux_threads"`

	// Whether to create a crash tracker when the adapter
	// supports it.
	EnableTracker bool `toml:"enable_tracker"`

	// Whether to create streaming queues when the device
	// supports them.
	//
	// Default is true.
	EnableStreaming bool `toml:"enable_streaming"`

	// Size of the staging buffers of streaming uploads.
	// Zero keeps the instance default.
	StagingSize uint64 `toml:"staging_size"`
}

// SwapChain configures window swapchains.
type SwapChain struct {
	// Requested number of back buffers.
	//
	// Default is 2.
	ImageCount int `toml:"image_count"`

	// Name of the back buffer format.
	//
	// Default is "bgra8unorm".
	Format string `toml:"format"`

	VSync bool `toml:"vsync"`
}

// Config is the configuration of a render device.
type Config struct {
	Instance  Instance  `toml:"instance"`
	Device    Device    `toml:"device"`
	SwapChain SwapChain `toml:"swapchain"`

	// One of the logrus level names.
	//
	// Default is "info".
	LogLevel string `toml:"log_level"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Device: Device{
			MaxCopyQueues:   2,
			EnableStreaming: true,
		},
		SwapChain: SwapChain{
			ImageCount: 2,
			Format:     gpu.BGRA8Unorm.String(),
		},
		LogLevel: "info",
	}
}

// Parse decodes a TOML configuration.
// Keys missing from data keep their default value.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads the configuration file at path, if path is
// not empty, then applies the environment overrides.
// Variables in DotEnv are added to the environment first,
// without replacing those already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(DotEnv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(err, "config: read %s", DotEnv)
	}
	envy.Reload()
	var c *Config
	if path == "" {
		d := Default()
		c = &d
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "config: read")
		}
		if c, err = Parse(data); err != nil {
			return nil, errors.Wrapf(err, "%s", path)
		}
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"file": path, "backend": c.Instance.Backend}).Debug("configuration loaded")
	return c, nil
}

// ApplyEnv replaces the settings of c that have an
// environment variable set.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v := envy.Get(key, ""); v != "" {
			*dst = v
		}
	}
	var err error
	boolean := func(key string, dst *bool) {
		v := envy.Get(key, "")
		if v == "" || err != nil {
			return
		}
		b, e := strconv.ParseBool(v)
		if e != nil {
			err = errors.Wrapf(e, "config: %s", key)
			return
		}
		*dst = b
	}
	integer := func(key string, dst *int) {
		v := envy.Get(key, "")
		if v == "" || err != nil {
			return
		}
		n, e := strconv.Atoi(v)
		if e != nil {
			err = errors.Wrapf(e, "config: %s", key)
			return
		}
		*dst = n
	}
	str(EnvBackend, &c.Instance.Backend)
	str(EnvLogLevel, &c.LogLevel)
	boolean(EnvDebugLayer, &c.Instance.DebugLayer)
	boolean(EnvGPUValidation, &c.Instance.GPUValidation)
	boolean(EnvResourceNaming, &c.Instance.ResourceNaming)
	boolean(EnvEnableTracker, &c.Device.EnableTracker)
	boolean(EnvEnableStreaming, &c.Device.EnableStreaming)
	integer(EnvMaxCopyQueues, &c.Device.MaxCopyQueues)
	integer(EnvAuxThreads, &c.Device.AuxThreads)
	if err != nil {
		return err
	}
	return c.Validate()
}

// Validate checks that the settings of c are in range.
func (c *Config) Validate() error {
	switch {
	case c.Device.MaxCopyQueues < 0:
		return errors.Newf("config: max_copy_queues %d is negative", c.Device.MaxCopyQueues)
	case c.Device.AuxThreads < 0:
		return errors.Newf("config: aux_threads %d is negative", c.Device.AuxThreads)
	case c.SwapChain.ImageCount < 1:
		return errors.Newf("config: image_count %d is less than 1", c.SwapChain.ImageCount)
	}
	if _, err := c.SwapChainFormat(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "config: log_level")
	}
	return nil
}

// SwapChainFormat returns the back buffer format.
func (c *Config) SwapChainFormat() (gpu.Format, error) {
	f, ok := gpu.ParseFormat(strings.ToLower(c.SwapChain.Format))
	if !ok {
		return gpu.FormatUndefined, errors.Newf("config: unknown format %q", c.SwapChain.Format)
	}
	return f, nil
}

// InstanceDescriptor returns the descriptor of the
// instance that c configures.
func (c *Config) InstanceDescriptor() *gpu.InstanceDescriptor {
	return &gpu.InstanceDescriptor{
		Backend:              c.Instance.Backend,
		EnableDebugLayer:     c.Instance.DebugLayer,
		EnableGPUValidation:  c.Instance.GPUValidation,
		EnableResourceNaming: c.Instance.ResourceNaming,
	}
}

// ApplyLogLevel sets the level of the standard logger.
func (c *Config) ApplyLogLevel() {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithError(err).Warn("[!] invalid log level ignored")
		return
	}
	log.SetLevel(lvl)
}

// Marshal encodes c as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
