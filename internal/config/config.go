package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Source identifiers used as cache keys, cron selectors and URL path
// segments. These match the upstream portals' short names.
const (
	SourceTIS = "tis"
	SourceBB  = "bb"
)

// CASConfig holds the identity-provider endpoint and credentials.
type CASConfig struct {
	// BaseURL is the CAS login endpoint (the same URL serves the form
	// GET, the credential POST and the service-ticket GET).
	BaseURL  string `yaml:"base_url" json:"base_url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ServiceConfig describes one downstream portal behind CAS.
type ServiceConfig struct {
	// ServiceURL is the value of the CAS "service" query parameter.
	ServiceURL string `yaml:"service_url" json:"service_url"`
	// BaseURL is the portal origin used for API requests after the
	// ticket has been redeemed.
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// CacheConfig selects and parameterizes the calendar cache backend.
type CacheConfig struct {
	// Backend is one of "file", "redis" or "memory".
	Backend string `yaml:"backend" json:"backend"`
	// Dir is the directory for the file backend.
	Dir string `yaml:"dir" json:"dir"`
	// RedisURL is a redis:// connection URL for the redis backend.
	RedisURL string `yaml:"redis_url" json:"redis_url"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone the class period table is
	// interpreted in (e.g. "Asia/Shanghai").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule for background fetches.
	// Empty disables the in-process scheduler (an external cron can
	// still drive /cron/fetch).
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// FetchOnDemand allows a serve request to trigger an inline fetch
	// when the cached document is missing or stale.
	FetchOnDemand bool `yaml:"fetch_on_demand" json:"fetch_on_demand"`

	// PastDays / FutureDays bound the fetch window relative to "now".
	PastDays   int `yaml:"past_days" json:"past_days"`
	FutureDays int `yaml:"future_days" json:"future_days"`

	// FreshnessDays is the per-source cache freshness window in days.
	FreshnessDays map[string]int `yaml:"freshness_days" json:"freshness_days"`

	CAS CASConfig     `yaml:"cas" json:"cas"`
	TIS ServiceConfig `yaml:"tis" json:"tis"`
	BB  ServiceConfig `yaml:"bb" json:"bb"`

	// ICalToken gates the .ics endpoints; CronToken gates /cron/fetch.
	// An empty token keeps the corresponding endpoint locked.
	ICalToken string `yaml:"ical_token" json:"ical_token"`
	CronToken string `yaml:"cron_token" json:"cron_token"`

	// LocationPrefix is prepended to every rewritten room string.
	LocationPrefix string `yaml:"location_prefix" json:"location_prefix"`

	// CourseFilter is the keyword list applied to schedule titles.
	CourseFilter []string `yaml:"course_filter" json:"course_filter"`

	// FilterMode is "allow" (keep if the title contains any keyword)
	// or "block" (drop if it does). Empty filter keeps everything.
	FilterMode string `yaml:"filter_mode" json:"filter_mode"`

	// RoomNames maps abbreviated building names to full names.
	RoomNames map[string]string `yaml:"room_names" json:"room_names"`

	Cache CacheConfig `yaml:"cache" json:"cache"`
}

// DefaultConfig returns an in-memory default configuration pointed at
// the SUSTech portals.
func DefaultConfig() *Config {
	return &Config{
		Listen:        "127.0.0.1:8080",
		Timezone:      "Asia/Shanghai",
		RefreshCron:   "0 */12 * * *",
		FetchOnDemand: true,
		PastDays:      30,
		FutureDays:    120,
		FreshnessDays: map[string]int{SourceTIS: 1, SourceBB: 1},
		CAS: CASConfig{
			BaseURL: "https://cas.sustech.edu.cn/cas/login",
		},
		TIS: ServiceConfig{
			ServiceURL: "https://tis.sustech.edu.cn/cas",
			BaseURL:    "https://tis.sustech.edu.cn",
		},
		BB: ServiceConfig{
			ServiceURL: "https://bb.sustech.edu.cn/webapps/portal/execute/defaultTab",
			BaseURL:    "https://bb.sustech.edu.cn",
		},
		FilterMode: "allow",
		RoomNames:  defaultRoomNames(),
		Cache: CacheConfig{
			Backend: "file",
			Dir:     "./var/ical-cache",
		},
	}
}

func defaultRoomNames() map[string]string {
	return map[string]string{
		"一教": "第一教学楼",
		"二教": "第二教学楼",
		"三教": "第三教学楼",
		"智华": "第三教学楼",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.PastDays <= 0 {
		c.PastDays = def.PastDays
	}
	if c.FutureDays <= 0 {
		c.FutureDays = def.FutureDays
	}
	if c.FreshnessDays == nil {
		c.FreshnessDays = map[string]int{}
	}
	for src, days := range def.FreshnessDays {
		if c.FreshnessDays[src] <= 0 {
			c.FreshnessDays[src] = days
		}
	}
	if c.CAS.BaseURL == "" {
		c.CAS.BaseURL = def.CAS.BaseURL
	}
	if c.TIS.ServiceURL == "" {
		c.TIS.ServiceURL = def.TIS.ServiceURL
	}
	if c.TIS.BaseURL == "" {
		c.TIS.BaseURL = def.TIS.BaseURL
	}
	if c.BB.ServiceURL == "" {
		c.BB.ServiceURL = def.BB.ServiceURL
	}
	if c.BB.BaseURL == "" {
		c.BB.BaseURL = def.BB.BaseURL
	}

	switch c.FilterMode {
	case "allow", "block":
		// ok
	default:
		// Unknown polarity; fall back to the allow-list reading.
		c.FilterMode = "allow"
	}
	if c.CourseFilter == nil {
		c.CourseFilter = []string{}
	}
	if c.RoomNames == nil {
		c.RoomNames = defaultRoomNames()
	}

	switch c.Cache.Backend {
	case "file", "redis", "memory":
		// ok
	default:
		c.Cache.Backend = "file"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = def.Cache.Dir
	}
}

// Validate reports configuration errors that must stop a fetch cycle
// before any network request is made.
func (c *Config) Validate() error {
	if c.CAS.Username == "" || c.CAS.Password == "" {
		return errors.New("config: CAS username/password not set (SUSTECH_SID / SUSTECH_PASSWORD)")
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
		return errors.New("config: redis backend selected but redis_url is empty")
	}
	return nil
}

// envOverrides mirrors the environment variables the original deployment
// used. Any set variable wins over the YAML file.
type envOverrides struct {
	Username       string `envconfig:"SUSTECH_SID"`
	Password       string `envconfig:"SUSTECH_PASSWORD"`
	ICalToken      string `envconfig:"ICAL_TOKEN"`
	CronToken      string `envconfig:"CRON_TOKEN"`
	LocationPrefix string `envconfig:"LOCATION_PREFIX"`
	CourseFilter   string `envconfig:"COURSE_NAME_FILTER"`
	RedisURL       string `envconfig:"REDIS_URL"`
}

// ApplyEnv overlays environment-supplied secrets and options onto c.
// COURSE_NAME_FILTER is a JSON-encoded string array, as in the original
// deployment; a malformed value is an error rather than a silent no-op.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return err
	}

	if env.Username != "" {
		c.CAS.Username = env.Username
	}
	if env.Password != "" {
		c.CAS.Password = env.Password
	}
	if env.ICalToken != "" {
		c.ICalToken = env.ICalToken
	}
	if env.CronToken != "" {
		c.CronToken = env.CronToken
	}
	if env.LocationPrefix != "" {
		c.LocationPrefix = env.LocationPrefix
	}
	if env.RedisURL != "" {
		c.Cache.RedisURL = env.RedisURL
	}
	if env.CourseFilter != "" {
		var keywords []string
		if err := json.Unmarshal([]byte(env.CourseFilter), &keywords); err != nil {
			return fmt.Errorf("config: COURSE_NAME_FILTER is not a JSON string array: %w", err)
		}
		c.CourseFilter = keywords
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: write a default config with 0600
//     perms (creating the parent directory) and return the defaults.
//   - If the file exists: read YAML, unmarshal, normalize defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Final file permissions are 0600 (the file can hold credentials).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".sustechreptile-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
