package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"tagify/internal/metadata"
)

// APIKeyEnv overrides provider_api_key when set.
const APIKeyEnv = "TAGIFY_ACOUSTID_KEY"

// ArtworkSizes are the pixel sizes the commerce catalog can serve.
var ArtworkSizes = []int{30, 40, 60, 100, 110, 130, 150, 160, 170, 200, 220, 230, 250, 340, 400, 440, 450, 460, 600, 1200, 1400}

// Config contains the program configuration
type Config struct {
	RequiredFields          []string      `yaml:"required_fields" validate:"dive,required"`
	ArtworkSize             int           `yaml:"artwork_size" validate:"min=30,max=1400"`
	RenameFilesOnCommit     bool          `yaml:"rename_files_on_commit"`
	FilenamePattern         string        `yaml:"filename_pattern" validate:"required"`
	PreferredLookupStrategy string        `yaml:"preferred_lookup_strategy" validate:"omitempty,oneof=fingerprint filename query none"`
	ProviderAPIKey          string        `yaml:"provider_api_key"`
	LibraryDirs             []string      `yaml:"library_dirs"`
	CacheDir                string        `yaml:"cache_dir" validate:"required"`
	IndexPath               string        `yaml:"index_path" validate:"required"`
	Verbose                 bool          `yaml:"verbose"`
	FixEncoding             bool          `yaml:"fix_encoding"`
	ASCIIFilenames          bool          `yaml:"ascii_filenames"`
	HTTPTimeout             time.Duration `yaml:"http_timeout" validate:"gt=0"`
	HTTPCacheTTL            time.Duration `yaml:"http_cache_ttl" validate:"gte=0"`
	BatchRetryDelay         time.Duration `yaml:"batch_retry_delay" validate:"gte=0"`
	BatchMaxAttempts        int           `yaml:"batch_max_attempts" validate:"min=1"`
	ListenAddr              string        `yaml:"listen_addr" validate:"required"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	cacheDir := GetDefaultCacheDir()
	return Config{
		RequiredFields:          []string{"TITLE", "ALBUM", "ARTIST"},
		ArtworkSize:             600,
		FilenamePattern:         "%ARTIST% - %TITLE%",
		PreferredLookupStrategy: "fingerprint",
		LibraryDirs:             []string{filepath.Join(homeDir(), "Music")},
		CacheDir:                cacheDir,
		IndexPath:               filepath.Join(cacheDir, "index.db"),
		FixEncoding:             true,
		HTTPTimeout:             30 * time.Second,
		HTTPCacheTTL:            24 * time.Hour,
		BatchRetryDelay:         time.Second,
		BatchMaxAttempts:        5,
		ListenAddr:              ":8080",
	}
}

// LoadConfigFile loads configuration from a YAML file.
// If path is empty, searches standard locations. Returns defaults if no file found.
// The API key environment variable is applied in every case.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = FindConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if key := os.Getenv(APIKeyEnv); key != "" {
		cfg.ProviderAPIKey = key
	}

	cfg.CacheDir = ExpandHome(cfg.CacheDir)
	cfg.IndexPath = ExpandHome(cfg.IndexPath)
	for i, dir := range cfg.LibraryDirs {
		cfg.LibraryDirs[i] = ExpandHome(dir)
	}

	return cfg, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() string {
	home := homeDir()
	locations := []string{
		"./tagify.yaml",
		"./tagify.yml",
		filepath.Join(home, ".config", "tagify", "config.yaml"),
		filepath.Join(home, ".config", "tagify", "config.yml"),
		filepath.Join(home, ".tagify.yaml"),
		filepath.Join(home, ".tagify.yml"),
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// SaveConfigFile saves the current configuration to a YAML file
func SaveConfigFile(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() string {
	return filepath.Join(homeDir(), ".config", "tagify", "config.yaml")
}

// GetDefaultLogPath returns the default log directory path
func GetDefaultLogPath() string {
	return filepath.Join(homeDir(), ".local", "share", "tagify", "logs")
}

// GetDefaultCacheDir returns the directory holding the index, caches and
// fingerprints.
func GetDefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "tagify")
	}
	return filepath.Join(homeDir(), ".cache", "tagify")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q check (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return err
	}

	for _, name := range c.RequiredFields {
		if _, ok := metadata.ParseField(name); !ok {
			return fmt.Errorf("unknown required field %q", name)
		}
	}

	if !validArtworkSize(c.ArtworkSize) {
		return fmt.Errorf("unsupported artwork_size %d, valid sizes: %v", c.ArtworkSize, ArtworkSizes)
	}

	if c.Strategy() == metadata.StrategyFingerprint && c.ProviderAPIKey == "" {
		return fmt.Errorf("provider_api_key (or %s) is required for the fingerprint strategy", APIKeyEnv)
	}

	return nil
}

// Required returns the parsed required field set.
func (c *Config) Required() []metadata.Field {
	fields := make([]metadata.Field, 0, len(c.RequiredFields))
	for _, name := range c.RequiredFields {
		if f, ok := metadata.ParseField(name); ok {
			fields = append(fields, f)
		}
	}
	return fields
}

// Strategy returns the preferred lookup strategy. Unknown values map to none.
func (c *Config) Strategy() metadata.Strategy {
	s, _ := metadata.ParseStrategy(c.PreferredLookupStrategy)
	return s
}

// FingerprintDir is where computed fingerprints are cached.
func (c *Config) FingerprintDir() string {
	return filepath.Join(c.CacheDir, "fingerprints")
}

// LockDir holds per-track commit lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.CacheDir, "locks")
}

// StoreDir holds the badger key-value store.
func (c *Config) StoreDir() string {
	return filepath.Join(c.CacheDir, "store")
}

func validArtworkSize(size int) bool {
	for _, s := range ArtworkSizes {
		if s == size {
			return true
		}
	}
	return false
}
