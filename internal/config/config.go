// Package config loads modlist-builder settings from modlist.toml, MODLIST_*
// environment variables and built-in defaults, in increasing order of
// precedence: defaults, file, environment. Command line flags are applied on
// top by the caller.
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/StinkyLord/modlist-builder/internal/model"
	"github.com/StinkyLord/modlist-builder/internal/output"
	"github.com/StinkyLord/modlist-builder/internal/patch"
)

const (
	// FileName is the config file looked up in the working directory.
	FileName = "modlist.toml"
	// EnvPrefix prefixes environment overrides, e.g. MODLIST_GAME.
	EnvPrefix = "MODLIST"
)

// PatchConfig bounds patch building.
type PatchConfig struct {
	MaxRatio      float64 `mapstructure:"max_ratio" toml:"max_ratio"`
	MaxSourceSize int64   `mapstructure:"max_source_size" toml:"max_source_size"`
	Timeout       string  `mapstructure:"timeout" toml:"timeout"`
}

// MetadataConfig is the free-text description written into the manifest.
type MetadataConfig struct {
	Name        string `mapstructure:"name" toml:"name"`
	Author      string `mapstructure:"author" toml:"author"`
	Description string `mapstructure:"description" toml:"description"`
	Readme      string `mapstructure:"readme" toml:"readme"`
	Image       string `mapstructure:"image" toml:"image"`
	Website     string `mapstructure:"website" toml:"website"`
	Version     string `mapstructure:"version" toml:"version"`
	NSFW        bool   `mapstructure:"nsfw" toml:"nsfw"`
}

// Config is the complete settings for a compile run.
type Config struct {
	Game            string         `mapstructure:"game" toml:"game"`
	InstallDir      string         `mapstructure:"install_dir" toml:"install_dir"`
	DownloadsDir    string         `mapstructure:"downloads_dir" toml:"downloads_dir"`
	OutputDir       string         `mapstructure:"output_dir" toml:"output_dir"`
	CacheDir        string         `mapstructure:"cache_dir" toml:"cache_dir"`
	SevenZipPath    string         `mapstructure:"seven_zip_path" toml:"seven_zip_path"`
	Format          string         `mapstructure:"format" toml:"format"`
	FailOnUnmatched bool           `mapstructure:"fail_on_unmatched" toml:"fail_on_unmatched"`
	Workers         int            `mapstructure:"workers" toml:"workers"`
	LogLevel        string         `mapstructure:"log_level" toml:"log_level"`
	Ignore          []string       `mapstructure:"ignore" toml:"ignore"`
	Inline          []string       `mapstructure:"inline" toml:"inline"`
	Patch           PatchConfig    `mapstructure:"patch" toml:"patch"`
	Metadata        MetadataConfig `mapstructure:"metadata" toml:"metadata"`
}

// DefaultConfig returns the built-in defaults. The output and cache folders
// are relative to the working directory; when that is inside the
// installation the compiler ignores them.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:       "modlist-out",
		CacheDir:        ".modlist-cache",
		SevenZipPath:    "7z",
		Format:          string(output.FormatJSON),
		FailOnUnmatched: true,
		LogLevel:        "info",
		Ignore:          []string{"**/*.log", "**/*.tmp"},
		Inline:          []string{"**/*.ini"},
		Patch: PatchConfig{
			MaxRatio: patch.DefaultMaxRatio,
			Timeout:  "5m",
		},
		Metadata: MetadataConfig{Version: "0.1.0"},
	}
}

// LoadOptions controls where Load looks for the config file.
type LoadOptions struct {
	// ConfigFile is an explicit path; it must exist.
	ConfigFile string
	// Dir is searched for FileName when ConfigFile is empty. Defaults to ".".
	Dir string
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
}

// Load resolves the configuration and returns it with the path of the file
// that was read, or "" when none was found.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	if opts.Fs != nil {
		v.SetFs(opts.Fs)
	}
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolved := ""
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("reading config %s: %w", opts.ConfigFile, err)
		}
		resolved = opts.ConfigFile
	} else {
		dir := opts.Dir
		if dir == "" {
			dir = "."
		}
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("toml")
		v.AddConfigPath(dir)
		err := v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		switch {
		case err == nil:
			resolved = v.ConfigFileUsed()
		case errors.As(err, &notFound):
		default:
			return nil, "", fmt.Errorf("reading config in %s: %w", dir, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, resolved, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("game", d.Game)
	v.SetDefault("install_dir", d.InstallDir)
	v.SetDefault("downloads_dir", d.DownloadsDir)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("seven_zip_path", d.SevenZipPath)
	v.SetDefault("format", d.Format)
	v.SetDefault("fail_on_unmatched", d.FailOnUnmatched)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("ignore", d.Ignore)
	v.SetDefault("inline", d.Inline)
	v.SetDefault("patch.max_ratio", d.Patch.MaxRatio)
	v.SetDefault("patch.max_source_size", d.Patch.MaxSourceSize)
	v.SetDefault("patch.timeout", d.Patch.Timeout)
	v.SetDefault("metadata.name", d.Metadata.Name)
	v.SetDefault("metadata.author", d.Metadata.Author)
	v.SetDefault("metadata.description", d.Metadata.Description)
	v.SetDefault("metadata.readme", d.Metadata.Readme)
	v.SetDefault("metadata.image", d.Metadata.Image)
	v.SetDefault("metadata.website", d.Metadata.Website)
	v.SetDefault("metadata.version", d.Metadata.Version)
	v.SetDefault("metadata.nsfw", d.Metadata.NSFW)
}

// Validate reports every setting that would make a compile run fail.
func (c *Config) Validate() error {
	var errs []error
	if c.Game == "" {
		errs = append(errs, errors.New("game is required"))
	}
	if c.InstallDir == "" {
		errs = append(errs, errors.New("install_dir is required"))
	}
	if c.DownloadsDir == "" {
		errs = append(errs, errors.New("downloads_dir is required"))
	}
	if _, err := output.ParseFormat(c.Format); err != nil {
		errs = append(errs, err)
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.Patch.MaxRatio < 0 {
		errs = append(errs, fmt.Errorf("patch.max_ratio must not be negative, got %g", c.Patch.MaxRatio))
	}
	if _, err := c.PatchPolicy(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PatchPolicy converts the patch settings.
func (c *Config) PatchPolicy() (patch.Policy, error) {
	p := patch.Policy{MaxRatio: c.Patch.MaxRatio, MaxSourceSize: c.Patch.MaxSourceSize}
	if c.Patch.Timeout != "" {
		d, err := time.ParseDuration(c.Patch.Timeout)
		if err != nil {
			return p, fmt.Errorf("patch.timeout: %w", err)
		}
		p.Timeout = d
	}
	return p, nil
}

// ModelMetadata converts the metadata settings.
func (c *Config) ModelMetadata() model.Metadata {
	return model.Metadata(c.Metadata)
}

// ErrExists is returned by Write when the file exists and force is false.
var ErrExists = errors.New("config file already exists")

// Write stores cfg as TOML at path.
func Write(fs afero.Fs, path string, cfg *Config, force bool) error {
	if !force {
		if _, err := fs.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
