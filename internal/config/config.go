package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Compression CompressionConfig `mapstructure:"compression"`
	Tools       ToolsConfig       `mapstructure:"tools"`
	Extensions  ExtensionsConfig  `mapstructure:"extensions"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains settings shared by every size-targeting search
type CompressionConfig struct {
	FallbackRatio       float64 `mapstructure:"fallback_ratio"`
	StuckDelta          int64   `mapstructure:"stuck_delta"`
	StuckLimit          int     `mapstructure:"stuck_limit"`
	ShortCircuitQuality int     `mapstructure:"short_circuit_quality"`
	AudioBitrateKbps    int     `mapstructure:"audio_bitrate_kbps"`
	TempDirectory       string  `mapstructure:"temp_directory"`

	Image    DomainConfig `mapstructure:"image"`
	Video    DomainConfig `mapstructure:"video"`
	Audio    DomainConfig `mapstructure:"audio"`
	Document DomainConfig `mapstructure:"document"`
}

// DomainConfig contains the search bounds and budget for one media domain
type DomainConfig struct {
	MinParam       float64       `mapstructure:"min_param"`
	MaxParam       float64       `mapstructure:"max_param"`
	Tolerance      float64       `mapstructure:"tolerance"`
	MaxIterations  int           `mapstructure:"max_iterations"`
	Convergence    float64       `mapstructure:"convergence"`
	MinAcceptRatio float64       `mapstructure:"min_accept_ratio"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// ToolsConfig names the external binaries
type ToolsConfig struct {
	FFmpeg       string        `mapstructure:"ffmpeg"`
	FFprobe      string        `mapstructure:"ffprobe"`
	Ghostscript  string        `mapstructure:"ghostscript"`
	ExifTool     string        `mapstructure:"exiftool"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// ExtensionsConfig lists recognized file extensions per domain
type ExtensionsConfig struct {
	Image    []string `mapstructure:"image"`
	Video    []string `mapstructure:"video"`
	Audio    []string `mapstructure:"audio"`
	Document []string `mapstructure:"document"`
}

// BatchConfig contains directory batch settings
type BatchConfig struct {
	SourceDirectory   string  `mapstructure:"source_directory"`
	TargetDirectory   string  `mapstructure:"target_directory"`
	TargetSize        string  `mapstructure:"target_size"`
	TargetPercent     float64 `mapstructure:"target_percent"`
	DuplicateHandling string  `mapstructure:"duplicate_handling"`
	DryRun            bool    `mapstructure:"dry_run"`
	MaxFilesPerRun    int     `mapstructure:"max_files_per_run"`
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	WorkerThreads int           `mapstructure:"worker_threads"`
	QueueSize     int           `mapstructure:"queue_size"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int     `mapstructure:"port"`
	RateLimit       float64 `mapstructure:"rate_limit"`
	RateBurst       int     `mapstructure:"rate_burst"`
	AllowedRootPath string  `mapstructure:"allowed_root_path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Compression: CompressionConfig{
			FallbackRatio:       0.30,
			StuckDelta:          1000,
			StuckLimit:          3,
			ShortCircuitQuality: 85,
			AudioBitrateKbps:    128,
			Image: DomainConfig{
				MinParam:      5,
				MaxParam:      95,
				Tolerance:     0.15,
				MaxIterations: 10,
				Convergence:   1,
				Timeout:       60 * time.Second,
			},
			Video: DomainConfig{
				MinParam:      50,
				MaxParam:      5000,
				Tolerance:     0.15,
				MaxIterations: 5,
				Convergence:   10,
				Timeout:       600 * time.Second,
			},
			Audio: DomainConfig{
				MinParam:      32,
				MaxParam:      320,
				Tolerance:     0.15,
				MaxIterations: 5,
				Convergence:   10,
				Timeout:       300 * time.Second,
			},
			Document: DomainConfig{
				MinParam:       30,
				MaxParam:       300,
				Tolerance:      0.05,
				MaxIterations:  30,
				Convergence:    1,
				MinAcceptRatio: 0.95,
				Timeout:        180 * time.Second,
			},
		},
		Tools: ToolsConfig{
			FFmpeg:       "ffmpeg",
			FFprobe:      "ffprobe",
			Ghostscript:  "gs",
			ExifTool:     "exiftool",
			ProbeTimeout: 30 * time.Second,
		},
		Extensions: ExtensionsConfig{
			Image: []string{
				".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif",
				".webp", ".heic", ".heif", ".ico", ".svg",
			},
			Video: []string{
				".mp4", ".avi", ".mov", ".mkv", ".flv", ".wmv", ".webm",
				".m4v", ".mpg", ".mpeg", ".3gp", ".ogv", ".mts", ".m2ts",
			},
			Audio: []string{
				".mp3", ".wav", ".flac", ".aac", ".ogg", ".wma", ".m4a",
				".opus", ".oga", ".aiff", ".ape",
			},
			Document: []string{
				".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
				".txt", ".rtf", ".odt", ".ods", ".odp", ".epub",
			},
		},
		Batch: BatchConfig{
			DuplicateHandling: "rename", // rename, skip, overwrite
		},
		Performance: PerformanceConfig{
			WorkerThreads: 4,
			QueueSize:     100,
			JobTimeout:    30 * time.Minute,
		},
		Server: ServerConfig{
			Port:      8080,
			RateLimit: 1,
			RateBurst: 10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "media-compressor.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.media-compressor")
		viper.AddConfigPath("/etc/media-compressor")
	}

	viper.SetEnvPrefix("MEDIA_COMPRESSOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Compression.FallbackRatio <= 0 || c.Compression.FallbackRatio >= 1 {
		return fmt.Errorf("fallback_ratio must be in (0, 1): %.2f", c.Compression.FallbackRatio)
	}
	if c.Compression.ShortCircuitQuality < 1 || c.Compression.ShortCircuitQuality > 100 {
		return fmt.Errorf("short_circuit_quality must be in [1, 100]: %d", c.Compression.ShortCircuitQuality)
	}
	if c.Compression.AudioBitrateKbps <= 0 {
		c.Compression.AudioBitrateKbps = 128
	}
	if c.Compression.StuckDelta <= 0 {
		c.Compression.StuckDelta = 1000
	}
	if c.Compression.StuckLimit <= 0 {
		c.Compression.StuckLimit = 3
	}

	domains := map[string]*DomainConfig{
		"image":    &c.Compression.Image,
		"video":    &c.Compression.Video,
		"audio":    &c.Compression.Audio,
		"document": &c.Compression.Document,
	}
	for name, d := range domains {
		if err := d.validate(); err != nil {
			return fmt.Errorf("compression.%s: %w", name, err)
		}
	}

	if c.Compression.TempDirectory != "" && !isValidPath(c.Compression.TempDirectory) {
		return fmt.Errorf("temp_directory does not exist or is not accessible: %s", c.Compression.TempDirectory)
	}

	if c.Tools.ProbeTimeout <= 0 {
		c.Tools.ProbeTimeout = 30 * time.Second
	}

	c.Extensions.Image = normalizeExtensions(c.Extensions.Image)
	c.Extensions.Video = normalizeExtensions(c.Extensions.Video)
	c.Extensions.Audio = normalizeExtensions(c.Extensions.Audio)
	c.Extensions.Document = normalizeExtensions(c.Extensions.Document)

	validStrategies := map[string]bool{
		"rename":    true,
		"skip":      true,
		"overwrite": true,
	}
	if !validStrategies[c.Batch.DuplicateHandling] {
		return fmt.Errorf("invalid duplicate_handling strategy: %s (valid: rename, skip, overwrite)",
			c.Batch.DuplicateHandling)
	}

	if c.Performance.WorkerThreads <= 0 {
		c.Performance.WorkerThreads = 4
	}
	if c.Performance.QueueSize <= 0 {
		c.Performance.QueueSize = 100
	}

	if c.Server.RateLimit <= 0 {
		c.Server.RateLimit = 1
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = 10
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

func (d *DomainConfig) validate() error {
	if d.MaxParam <= d.MinParam {
		return fmt.Errorf("max_param %.2f must exceed min_param %.2f", d.MaxParam, d.MinParam)
	}
	if d.Tolerance <= 0 || d.Tolerance >= 1 {
		return fmt.Errorf("tolerance must be in (0, 1): %.3f", d.Tolerance)
	}
	if d.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive: %d", d.MaxIterations)
	}
	if d.MinAcceptRatio < 0 || d.MinAcceptRatio > 1 {
		return fmt.Errorf("min_accept_ratio must be in [0, 1]: %.2f", d.MinAcceptRatio)
	}
	if d.Timeout <= 0 {
		d.Timeout = 60 * time.Second
	}
	return nil
}

// TempDir returns the directory for intermediate files.
func (c *Config) TempDir() string {
	if c.Compression.TempDirectory != "" {
		return c.Compression.TempDirectory
	}
	return os.TempDir()
}

// GetAllSupportedExtensions returns every recognized extension
func (c *Config) GetAllSupportedExtensions() []string {
	all := make([]string, 0, len(c.Extensions.Image)+len(c.Extensions.Video)+
		len(c.Extensions.Audio)+len(c.Extensions.Document))
	all = append(all, c.Extensions.Image...)
	all = append(all, c.Extensions.Video...)
	all = append(all, c.Extensions.Audio...)
	all = append(all, c.Extensions.Document...)
	return all
}

// IsSupportedExtension checks if ext belongs to any domain
func (c *Config) IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.GetAllSupportedExtensions() {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

// Helper functions

func isValidPath(path string) bool {
	if path == "" {
		return false
	}

	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return false
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}

	stat, err := os.Stat(expandedPath)
	return err == nil && stat.IsDir()
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
