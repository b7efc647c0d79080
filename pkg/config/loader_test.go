package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestDecode_MergesEnvAndSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
  password: ${DB_PASS}
server:
  port: "8080"
  request_timeout: 15s
gmail:
  label: ATS/応募
  page_size: 200
`)
	writeFile(t, dir, "staging.yaml", `
db:
  host: db.staging
server:
  port: "9090"
`)
	writeFile(t, dir, "secrets.env", "# comment\nDB_PASS=\"s3cret\"\n")

	var cfg struct {
		DB     DBConfig     `yaml:"db"`
		Server ServerConfig `yaml:"server"`
		Gmail  GmailConfig  `yaml:"gmail"`
	}
	require.NoError(t, Decode("staging", dir, &cfg))

	assert.Equal(t, "db.staging", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port, "base values survive the merge")
	assert.Equal(t, "s3cret", cfg.DB.Password)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "ATS/応募", cfg.Gmail.Label)
	assert.Equal(t, 200, cfg.Gmail.PageSize)
}

func TestLoadConfig_MissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	assert.Error(t, err)
}

func TestSubstituteString_FallsBackToProcessEnv(t *testing.T) {
	t.Setenv("ATSINBOX_TEST_VAR", "from-env")
	assert.Equal(t, "x-from-env", substituteString("x-${ATSINBOX_TEST_VAR}", nil))
	assert.Equal(t, "${ATSINBOX_UNSET_VAR}", substituteString("${ATSINBOX_UNSET_VAR}", nil))
}

func TestOverrideGmailFromEnv(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "cid")
	t.Setenv("GOOGLE_CLIENT_SECRET", "csecret")
	cfg := GmailConfig{ClientID: "old"}
	OverrideGmailFromEnv(&cfg)
	assert.Equal(t, "cid", cfg.ClientID)
	assert.Equal(t, "csecret", cfg.ClientSecret)
}

func TestPipelineConfig_LoadLocation(t *testing.T) {
	assert.Equal(t, time.UTC, PipelineConfig{}.LoadLocation())
	assert.Equal(t, time.UTC, PipelineConfig{Location: "Nowhere/Invalid"}.LoadLocation())
	assert.Equal(t, "Asia/Tokyo", PipelineConfig{Location: "Asia/Tokyo"}.LoadLocation().String())
}
