package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/annotation-overlay/internal/logger"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "OVERLAY_"

// Config holds the application configuration
type Config struct {
	Viewer      ViewerConfig      `json:"viewer" yaml:"viewer"`
	Interaction InteractionConfig `json:"interaction" yaml:"interaction"`
	Findings    FindingsConfig    `json:"findings" yaml:"findings"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
	Render      RenderConfig      `json:"render" yaml:"render"`
	Server      ServerConfig      `json:"server" yaml:"server"`
	Logging     logger.Config     `json:"logging" yaml:"logging"`
}

// ViewerConfig is the viewport container size in canvas pixels
type ViewerConfig struct {
	CanvasWidth  int `json:"canvas_width" yaml:"canvas_width" validate:"gt=0"`
	CanvasHeight int `json:"canvas_height" yaml:"canvas_height" validate:"gt=0"`
}

// InteractionConfig holds pointer geometry in canvas pixels
type InteractionConfig struct {
	MinBoxSize  float64 `json:"min_box_size" yaml:"min_box_size" validate:"gte=20"`
	HandleSize  float64 `json:"handle_size" yaml:"handle_size" validate:"gt=0"`
	LabelHeight float64 `json:"label_height" yaml:"label_height" validate:"gt=0"`
	NoteWidth   float64 `json:"note_width" yaml:"note_width" validate:"gt=0"`
	NoteHeight  float64 `json:"note_height" yaml:"note_height" validate:"gt=0"`
}

// FindingsConfig selects where AI findings come from
type FindingsConfig struct {
	Backend        string  `json:"backend" yaml:"backend" validate:"oneof=none ollama llamacpp saliency"`
	URL            string  `json:"url" yaml:"url" validate:"required_if=Backend ollama,required_if=Backend llamacpp"`
	Model          string  `json:"model" yaml:"model"`
	Prompt         string  `json:"prompt" yaml:"prompt"`
	MinConfidence  float64 `json:"min_confidence" yaml:"min_confidence" validate:"gte=0,lte=1"`
	TimeoutSeconds int     `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0"`
	ImageFormat    string  `json:"image_format" yaml:"image_format" validate:"oneof=jpg png"`
	MaxDimension   int     `json:"max_dimension" yaml:"max_dimension" validate:"gte=0"`
	Quality        int     `json:"quality" yaml:"quality" validate:"gte=1,lte=100"`
}

// PersistenceConfig selects the annotation record store
type PersistenceConfig struct {
	Backend        string `json:"backend" yaml:"backend" validate:"oneof=memory postgres rest"`
	DSN            string `json:"dsn" yaml:"dsn" validate:"required_if=Backend postgres"`
	URL            string `json:"url" yaml:"url" validate:"required_if=Backend rest"`
	Concurrency    int    `json:"concurrency" yaml:"concurrency" validate:"gte=1,lte=64"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0"`
	AutoMigrate    bool   `json:"auto_migrate" yaml:"auto_migrate"`
}

// RenderConfig holds export settings
type RenderConfig struct {
	Format   string `json:"format" yaml:"format" validate:"oneof=jpg jpeg png webp"`
	Quality  int    `json:"quality" yaml:"quality" validate:"gte=1,lte=100"`
	Lossless bool   `json:"lossless" yaml:"lossless"`
	Stroke   int    `json:"stroke" yaml:"stroke" validate:"gte=0"`
	Labels   bool   `json:"labels" yaml:"labels"`
}

// ServerConfig configures the annotation storage service
type ServerConfig struct {
	Addr      string `json:"addr" yaml:"addr" validate:"required"`
	BodyLimit int    `json:"body_limit" yaml:"body_limit" validate:"gte=0"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Viewer: ViewerConfig{
			CanvasWidth:  1024,
			CanvasHeight: 768,
		},
		Interaction: InteractionConfig{
			MinBoxSize:  20,
			HandleSize:  10,
			LabelHeight: 18,
			NoteWidth:   160,
			NoteHeight:  100,
		},
		Findings: FindingsConfig{
			Backend:        "none",
			Model:          "llava",
			TimeoutSeconds: 300,
			ImageFormat:    "jpg",
			MaxDimension:   1024,
			Quality:        90,
		},
		Persistence: PersistenceConfig{
			Backend:        "memory",
			Concurrency:    4,
			TimeoutSeconds: 30,
		},
		Render: RenderConfig{
			Format:  "png",
			Quality: 90,
			Labels:  true,
		},
		Server: ServerConfig{
			Addr:      ":8080",
			BodyLimit: 1 << 20,
		},
		Logging: logger.Config{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then the file at path
// when given, then .env files and OVERLAY_* environment variables.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(envFiles...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the
// defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration as JSON, or YAML for a .yaml/.yml name
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv loads the given .env files (default ".env"; missing files are
// fine) and applies OVERLAY_* overrides
func (c *Config) ApplyEnv(envFiles ...string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var errs []error
	setString(&c.Findings.Backend, "FINDINGS_BACKEND")
	setString(&c.Findings.URL, "FINDINGS_URL")
	setString(&c.Findings.Model, "FINDINGS_MODEL")
	errs = append(errs, setFloat(&c.Findings.MinConfidence, "FINDINGS_MIN_CONFIDENCE"))
	setString(&c.Persistence.Backend, "PERSISTENCE_BACKEND")
	setString(&c.Persistence.DSN, "PERSISTENCE_DSN")
	setString(&c.Persistence.URL, "PERSISTENCE_URL")
	errs = append(errs, setInt(&c.Persistence.Concurrency, "PERSISTENCE_CONCURRENCY"))
	errs = append(errs, setBool(&c.Persistence.AutoMigrate, "PERSISTENCE_AUTO_MIGRATE"))
	setString(&c.Server.Addr, "SERVER_ADDR")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.File, "LOG_FILE")
	errs = append(errs, setBool(&c.Logging.Production, "LOG_PRODUCTION"))
	setString(&c.Render.Format, "RENDER_FORMAT")
	errs = append(errs, setInt(&c.Viewer.CanvasWidth, "CANVAS_WIDTH"))
	errs = append(errs, setInt(&c.Viewer.CanvasHeight, "CANVAS_HEIGHT"))
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = b
	return nil
}

var validate = validator.New()

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Findings.Backend == "ollama" && c.Findings.Model == "" {
		return fmt.Errorf("findings.model is required for the ollama backend")
	}
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./overlay.yaml"
	}
	return filepath.Join(home, ".config", "annotation-overlay", "overlay.yaml")
}
