package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

const minimalYAML = `
dry_run: true
venue_p:
  base_url: https://clob.example.com
venue_k:
  env: demo
risk:
  max_notional: 500
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeYAML(t, minimalYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(137), cfg.VenueP.Wallet.ChainID)
	assert.Equal(t, "/trade-api/v2", cfg.VenueK.BasePathPrefix)
	assert.Equal(t, 3, cfg.Execution.UnwindRetries)
	assert.Equal(t, 8080, cfg.Dashboard.Port)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadRejectsInvalidVenueKEnv(t *testing.T) {
	path := writeYAML(t, `
dry_run: true
venue_p:
  base_url: https://clob.example.com
venue_k:
  env: staging
risk:
  max_notional: 500
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "venue_k.env")
}

func TestLoadRequiresMaxNotional(t *testing.T) {
	path := writeYAML(t, `
dry_run: true
venue_p:
  base_url: https://clob.example.com
venue_k:
  env: prod
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "max_notional")
}

func TestLoadRequiresCredentialsOutsideDryRun(t *testing.T) {
	path := writeYAML(t, `
dry_run: false
venue_p:
  base_url: https://clob.example.com
venue_k:
  env: prod
risk:
  max_notional: 500
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "private_key")
}

func TestLoadEnvOverridesSensitiveFields(t *testing.T) {
	path := writeYAML(t, minimalYAML)

	t.Setenv("BOXARB_WALLET_PRIVATE_KEY", "0xabc123")
	t.Setenv("BOXARB_VENUE_K_ACCESS_KEY_ID", "access-123")
	t.Setenv("BOXARB_VENUE_K_PRIV_KEY_PATH", "/run/secrets/kalshi.pem")
	t.Setenv("BOXARB_ALERT_BOT_TOKEN", "bot-token-xyz")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0xabc123", cfg.VenueP.Wallet.PrivateKey)
	assert.Equal(t, "access-123", cfg.VenueK.AccessKeyID)
	assert.Equal(t, "/run/secrets/kalshi.pem", cfg.VenueK.PrivKeyPath)
	assert.Equal(t, "bot-token-xyz", cfg.Alert.BotToken)
}

func TestLoadEnvOverridesDryRun(t *testing.T) {
	path := writeYAML(t, minimalYAML)
	t.Setenv("BOXARB_DRY_RUN", "false")
	t.Setenv("BOXARB_WALLET_PRIVATE_KEY", "0xabc123")
	t.Setenv("BOXARB_VENUE_K_ACCESS_KEY_ID", "access-123")
	t.Setenv("BOXARB_VENUE_K_PRIV_KEY_PATH", "/run/secrets/kalshi.pem")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.DryRun)
}
