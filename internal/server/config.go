package server

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/pavel-fokin/grayavatar/internal/imaging"
)

type Config struct {
	Addr          string        `env:"GRAYAVATAR_ADDR" envDefault:":8080"`
	DataDir       string        `env:"GRAYAVATAR_DATA_DIR"`
	DBPath        string        `env:"GRAYAVATAR_DB_PATH"`
	MaxSize       int64         `env:"GRAYAVATAR_MAX_SIZE" envDefault:"1048576"`
	MaxPixels     int64         `env:"GRAYAVATAR_MAX_PIXELS" envDefault:"16777216"`
	DefaultExt    string        `env:"GRAYAVATAR_DEFAULT_EXT" envDefault:"jpg"`
	RateLimit     int           `env:"GRAYAVATAR_RATE_LIMIT" envDefault:"50"`
	RateWindow    time.Duration `env:"GRAYAVATAR_RATE_WINDOW" envDefault:"24h"`
	ArtifactTTL   time.Duration `env:"GRAYAVATAR_ARTIFACT_TTL" envDefault:"24h"`
	SweepInterval time.Duration `env:"GRAYAVATAR_SWEEP_INTERVAL" envDefault:"10m"`
	TrustProxy    bool          `env:"GRAYAVATAR_TRUST_PROXY" envDefault:"false"`
	CORSOrigins   []string      `env:"GRAYAVATAR_CORS_ORIGINS" envDefault:"*" envSeparator:","`
	LogLevel      slog.Level    `env:"GRAYAVATAR_LOG_LEVEL" envDefault:"info"`
}

// withDefaults fills the paths that depend on the runtime environment
func (c Config) withDefaults() Config {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(os.TempDir(), "avatar")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, ".index.db")
	}
	return c
}

// Validate checks the configuration for values the service cannot run with
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.MaxSize, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.MaxPixels, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.DefaultExt, validation.Required, validation.By(supportedExtension)),
		validation.Field(&c.RateLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.RateWindow, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.ArtifactTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SweepInterval, validation.Required, validation.Min(time.Second)),
	)
}

func supportedExtension(value interface{}) error {
	ext, _ := value.(string)
	if !imaging.Supported(ext) {
		return fmt.Errorf("unsupported image format %q", ext)
	}
	return nil
}
