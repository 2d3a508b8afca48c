// Package config loads run configuration. Sources are applied in order:
// defaults, YAML file, environment, shared settings, then --set merge
// patches. The result is validated before anything touches the cache or
// the network.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/civilservant/gratsample/internal/replica"
	"github.com/civilservant/gratsample/internal/storage"
)

// ErrMissing marks an absent or invalid required setting.
var ErrMissing = errors.New("config: missing or invalid setting")

// StorageConfig selects the cache backend.
type StorageConfig struct {
	Backend       string              `yaml:"backend" json:"backend" validate:"oneof=local memory redis oss"`
	Redis         storage.RedisConfig `yaml:"redis" json:"redis"`
	OSS           storage.OSSConfig   `yaml:"oss" json:"oss"`
	Secret        string              `yaml:"secret" json:"secret"`                 // encrypts cache entries when set
	MemoryTier    int64               `yaml:"memory_tier" json:"memory_tier"`       // rows kept hot in process, 0 disables
	UploadOutputs bool                `yaml:"upload_outputs" json:"upload_outputs"` // copy emitted CSVs under outputs/
}

// Config is the run configuration.
type Config struct {
	CacheDir      string         `yaml:"cache_dir" json:"cache_dir" validate:"required"`
	Storage       StorageConfig  `yaml:"storage" json:"storage"`
	Langs         []string       `yaml:"langs" json:"langs" validate:"required,min=1,dive,required"`
	TreatmentDate string         `yaml:"treatment_date" json:"treatment_date" validate:"required"`
	Subsample     int            `yaml:"subsample" json:"subsample" validate:"min=0"`
	Seed          uint64         `yaml:"seed" json:"seed"`
	Replica       replica.Config `yaml:"replica" json:"replica"`
	GratitudeDir  string         `yaml:"gratitude_dir" json:"gratitude_dir"`
	OutputDir     string         `yaml:"output_dir" json:"output_dir" validate:"required"`
	ORESEndpoint  string         `yaml:"ores_endpoint" json:"ores_endpoint" validate:"omitempty,url"`
	MWAPIEndpoint string         `yaml:"mwapi_endpoint" json:"mwapi_endpoint"`
	UserAgent     string         `yaml:"user_agent" json:"user_agent"`
	APIRate       float64        `yaml:"api_rate" json:"api_rate" validate:"min=0"`
	LogLevel      string         `yaml:"log_level" json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat     string         `yaml:"log_format" json:"log_format" validate:"omitempty,oneof=json console"`
	MetricsFile   string         `yaml:"metrics_file" json:"metrics_file"`
	SharedRedis   string         `yaml:"shared_settings_redis" json:"shared_settings_redis"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		CacheDir:      "cache",
		Storage:       StorageConfig{Backend: "local"},
		Langs:         []string{"ar", "de", "fa", "pl"},
		TreatmentDate: "2018-05-24",
		Seed:          1854,
		Replica:       replica.Config{Port: 3306},
		OutputDir:     "outputs",
		APIRate:       10,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// Load reads the YAML file at path (optional), the environment, and the
// merge patches, then validates.
func Load(path string, patches ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	for _, p := range patches {
		if err := cfg.Patch([]byte(p)); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("CACHE_DIR", &c.CacheDir)
	str("TREATMENT_DATE", &c.TreatmentDate)
	str("WMF_MYSQL_USERNAME", &c.Replica.User)
	str("WMF_MYSQL_PASSWORD", &c.Replica.Password)
	str("WMF_MYSQL_HOST", &c.Replica.Host)
	str("GRAT_DIR", &c.GratitudeDir)
	str("OUTPUT_DIR", &c.OutputDir)

	if v, ok := lookup("LANGS"); ok && v != "" {
		c.Langs = nil
		for _, l := range strings.Split(v, ",") {
			if l = strings.TrimSpace(l); l != "" {
				c.Langs = append(c.Langs, l)
			}
		}
	}
	if v, ok := lookup("subsample"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: subsample=%q: %v", ErrMissing, v, err)
		}
		c.Subsample = n
	}
	if v, ok := lookup("WMF_MYSQL_PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: WMF_MYSQL_PORT=%q: %v", ErrMissing, v, err)
		}
		c.Replica.Port = n
	}
	return nil
}

// Patch applies an RFC 7396 merge patch to the configuration.
func (c *Config) Patch(patch []byte) error {
	if !gjson.ValidBytes(patch) || !gjson.ParseBytes(patch).IsObject() {
		return fmt.Errorf("%w: override %q is not a JSON object", ErrMissing, patch)
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return fmt.Errorf("failed to merge override: %w", err)
	}
	next := Config{}
	if err := json.Unmarshal(merged, &next); err != nil {
		return fmt.Errorf("%w: override: %v", ErrMissing, err)
	}
	*c = next
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required settings. The replica is only required for
// runs that query it, see ValidateReplica.
func (c *Config) Validate() error {
	if err := validate.StructExcept(c, "Replica"); err != nil {
		return fmt.Errorf("%w: %v", ErrMissing, err)
	}
	if _, err := c.Treatment(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case "redis":
		if c.Storage.Redis.URL == "" {
			return fmt.Errorf("%w: storage.redis.url", ErrMissing)
		}
	case "oss":
		if c.Storage.OSS.Bucket == "" || c.Storage.OSS.Endpoint == "" {
			return fmt.Errorf("%w: storage.oss.endpoint and storage.oss.bucket", ErrMissing)
		}
	}
	return nil
}

// ValidateReplica checks the replica credentials.
func (c *Config) ValidateReplica() error {
	if err := validate.Struct(c.Replica); err != nil {
		return fmt.Errorf("%w: replica: %v", ErrMissing, err)
	}
	return nil
}

// Treatment parses TreatmentDate, either "Y,M,D[,h,m,s]" or an ISO date
// or timestamp, as UTC.
func (c *Config) Treatment() (time.Time, error) {
	s := strings.TrimSpace(c.TreatmentDate)
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		if len(parts) < 3 || len(parts) > 6 {
			return time.Time{}, fmt.Errorf("%w: treatment_date %q", ErrMissing, s)
		}
		var f [6]int
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return time.Time{}, fmt.Errorf("%w: treatment_date %q", ErrMissing, s)
			}
			f[i] = n
		}
		return time.Date(f[0], time.Month(f[1]), f[2], f[3], f[4], f[5], 0, time.UTC), nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: treatment_date %q", ErrMissing, s)
}

// CreateStorage creates the cache backend.
func (c *Config) CreateStorage() (storage.Storage, error) {
	switch c.Storage.Backend {
	case "local", "":
		return storage.NewFileStorage(storage.FileConfig{BasePath: c.CacheDir})
	case "memory":
		return storage.NewMemoryStorage(c.CacheDir), nil
	case "redis":
		return storage.NewRedisStorageWithURL(c.Storage.Redis)
	case "oss":
		return storage.NewOSSStorage(c.Storage.OSS)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", c.Storage.Backend)
	}
}
