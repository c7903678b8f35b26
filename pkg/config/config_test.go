package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.Provider)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, 30*time.Second, cfg.ToolTimeout())
	assert.Equal(t, DefaultMaxResubmissions, cfg.MaxResubmissions)
}

func TestLoadConfigParsesAndFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	content := `
provider: ollama
model: llama3.2
ollama_host: http://localhost:11434
tool_timeout_seconds: 10
closing_phrases:
  - over and out
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderOllama, cfg.Provider)
	assert.Equal(t, "llama3.2", cfg.Model)
	assert.Equal(t, 10*time.Second, cfg.ToolTimeout())
	assert.Equal(t, []string{"over and out"}, cfg.ClosingPhrases)
	assert.Equal(t, DefaultDatabasePath, cfg.DatabasePath, "omitted fields take defaults")
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff())
}

func TestLoadConfigRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: cohere\n"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "unknown provider")
}

func TestValidateBackoffOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialBackoffMs = 60000
	cfg.MaxBackoffMs = 1000

	assert.ErrorContains(t, cfg.Validate(), "exceeds max_backoff_ms")
}

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{"ANTHROPIC_API_KEY": "sk-test-123"}

	require.NoError(t, EncryptSecretsFile(dir, "passw0rd", secrets))
	assert.True(t, SecretsFileExists(dir))

	decrypted, err := DecryptSecretsFile(dir, "passw0rd")
	require.NoError(t, err)
	assert.Equal(t, secrets, decrypted)

	_, err = DecryptSecretsFile(dir, "wrong")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestGetSecretPrecedence(t *testing.T) {
	SetDecryptedSecrets(map[string]string{"CONDUCTOR_TEST_SECRET": "from-file"})
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	t.Setenv("CONDUCTOR_TEST_SECRET", "from-env")

	value, err := GetSecret("CONDUCTOR_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-file", value, "secrets file wins over environment")

	t.Setenv("CONDUCTOR_ENV_ONLY", "env-value")
	value, err = GetSecret("CONDUCTOR_ENV_ONLY")
	require.NoError(t, err)
	assert.Equal(t, "env-value", value)

	_, err = GetSecret("CONDUCTOR_ABSENT")
	assert.Error(t, err)
}
