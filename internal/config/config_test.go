package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Normalize()

	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "Asia/Shanghai", cfg.Timezone)
	assert.Equal(t, 30, cfg.PastDays)
	assert.Equal(t, 120, cfg.FutureDays)
	assert.Equal(t, 1, cfg.FreshnessDays[SourceTIS])
	assert.Equal(t, 1, cfg.FreshnessDays[SourceBB])
	assert.Equal(t, "allow", cfg.FilterMode)
	assert.Equal(t, "file", cfg.Cache.Backend)
	assert.NotEmpty(t, cfg.CAS.BaseURL)
	assert.NotEmpty(t, cfg.TIS.ServiceURL)
	assert.NotEmpty(t, cfg.BB.ServiceURL)
	assert.Contains(t, cfg.RoomNames, "一教")
}

func TestNormalizeUnknownValuesFallBack(t *testing.T) {
	cfg := &Config{FilterMode: "whitelist", Cache: CacheConfig{Backend: "s3"}}
	cfg.Normalize()

	assert.Equal(t, "allow", cfg.FilterMode)
	assert.Equal(t, "file", cfg.Cache.Backend)
}

func TestValidateRequiresCredentials(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.Validate())

	cfg.CAS.Username = "sid123"
	require.Error(t, cfg.Validate())

	cfg.CAS.Password = "secret"
	require.NoError(t, cfg.Validate())
}

func TestValidateRedisURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CAS.Username = "sid123"
	cfg.CAS.Password = "secret"
	cfg.Cache.Backend = "redis"

	require.Error(t, cfg.Validate())
	cfg.Cache.RedisURL = "redis://localhost:6379/0"
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SUSTECH_SID", "12012345")
	t.Setenv("SUSTECH_PASSWORD", "hunter2")
	t.Setenv("ICAL_TOKEN", "ical-t")
	t.Setenv("CRON_TOKEN", "cron-t")
	t.Setenv("LOCATION_PREFIX", "南科大 ")
	t.Setenv("COURSE_NAME_FILTER", `["线性代数","物理"]`)
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "12012345", cfg.CAS.Username)
	assert.Equal(t, "hunter2", cfg.CAS.Password)
	assert.Equal(t, "ical-t", cfg.ICalToken)
	assert.Equal(t, "cron-t", cfg.CronToken)
	assert.Equal(t, "南科大 ", cfg.LocationPrefix)
	assert.Equal(t, []string{"线性代数", "物理"}, cfg.CourseFilter)
	assert.Equal(t, "redis://localhost:6379/1", cfg.Cache.RedisURL)
}

func TestApplyEnvRejectsMalformedFilter(t *testing.T) {
	t.Setenv("COURSE_NAME_FILTER", "not json")

	cfg := DefaultConfig()
	require.Error(t, cfg.ApplyEnv())
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", cfg.Timezone)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Listen = "0.0.0.0:9090"
	cfg.CourseFilter = []string{"代数"}
	cfg.FreshnessDays[SourceTIS] = 3
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", loaded.Listen)
	assert.Equal(t, []string{"代数"}, loaded.CourseFilter)
	assert.Equal(t, 3, loaded.FreshnessDays[SourceTIS])
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}
