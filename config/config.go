// Package config holds the viewer's settings and parses them from command-line
// flags.
package config

import (
	"flag"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

type Config struct {
	ModelPath string
	Title     string
	Width     int
	Height    int

	Validation      bool
	AllowIntegrated bool
	// VSync forces FIFO presentation. Otherwise mailbox is used when the surface
	// supports it.
	VSync bool

	VertexShaderPath   string
	FragmentShaderPath string
	// PipelineCachePath is where compiled pipeline state is persisted between runs.
	// Empty disables the on-disk cache.
	PipelineCachePath string

	MaxVertices int
	MaxIndices  int
	MaxObjects  int
	MaxTextures int

	// PreloadWorkers bounds how many textures are decoded concurrently before the
	// first frame.
	PreloadWorkers int
	LogLevel       string
}

func Default() Config {
	return Config{
		ModelPath: "viking_room.obj",
		Title:     "Model Viewer",
		Width:     800,
		Height:    600,

		VertexShaderPath:   "shaders/model.vert.spv",
		FragmentShaderPath: "shaders/model.frag.spv",
		PipelineCachePath:  "pipeline_cache.data",

		MaxVertices: 250000,
		MaxIndices:  1000000,
		MaxObjects:  1000,
		MaxTextures: 64,

		PreloadWorkers: 4,
		LogLevel:       "info",
	}
}

// Parse reads flags from args (without the program name) on top of Default. A single
// positional argument overrides the model path. Usage output is written to output,
// which may be nil to discard it.
func Parse(args []string, output io.Writer) (Config, error) {
	cfg := Default()

	flags := flag.NewFlagSet("modelviewer", flag.ContinueOnError)
	if output == nil {
		output = io.Discard
	}
	flags.SetOutput(output)

	flags.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "path to the Wavefront OBJ model")
	flags.StringVar(&cfg.Title, "title", cfg.Title, "window title")
	flags.IntVar(&cfg.Width, "width", cfg.Width, "initial window width")
	flags.IntVar(&cfg.Height, "height", cfg.Height, "initial window height")
	flags.BoolVar(&cfg.Validation, "validation", cfg.Validation, "enable Vulkan validation layers")
	flags.BoolVar(&cfg.AllowIntegrated, "allow-integrated", cfg.AllowIntegrated, "allow rendering on an integrated GPU")
	flags.BoolVar(&cfg.VSync, "vsync", cfg.VSync, "always use FIFO presentation instead of preferring mailbox")
	flags.StringVar(&cfg.VertexShaderPath, "vertex-shader", cfg.VertexShaderPath, "compiled SPIR-V vertex shader")
	flags.StringVar(&cfg.FragmentShaderPath, "fragment-shader", cfg.FragmentShaderPath, "compiled SPIR-V fragment shader")
	flags.StringVar(&cfg.PipelineCachePath, "pipeline-cache", cfg.PipelineCachePath, "pipeline cache file, empty to disable")
	flags.IntVar(&cfg.MaxVertices, "max-vertices", cfg.MaxVertices, "vertices per frame")
	flags.IntVar(&cfg.MaxIndices, "max-indices", cfg.MaxIndices, "indices per frame")
	flags.IntVar(&cfg.MaxObjects, "max-objects", cfg.MaxObjects, "draw calls per frame")
	flags.IntVar(&cfg.MaxTextures, "max-textures", cfg.MaxTextures, "distinct textures")
	flags.IntVar(&cfg.PreloadWorkers, "preload-workers", cfg.PreloadWorkers, "concurrent texture decodes")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	if err := flags.Parse(args); err != nil {
		return cfg, err
	}

	switch flags.NArg() {
	case 0:
	case 1:
		cfg.ModelPath = flags.Arg(0)
	default:
		return cfg, errors.Newf("expected at most one model path, got %d arguments", flags.NArg())
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Newf("window size must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.VertexShaderPath == "" || c.FragmentShaderPath == "" {
		return errors.New("both shader paths are required")
	}

	limits := []struct {
		name  string
		value int
	}{
		{"max-vertices", c.MaxVertices},
		{"max-indices", c.MaxIndices},
		{"max-objects", c.MaxObjects},
		{"max-textures", c.MaxTextures},
		{"preload-workers", c.PreloadWorkers},
	}
	for _, limit := range limits {
		if limit.value <= 0 {
			return errors.Newf("%s must be positive, got %d", limit.name, limit.value)
		}
	}

	_, err := c.Level()
	return err
}

func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo, errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}
	return level, nil
}
