package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withSecret(t *testing.T) {
	t.Helper()
	t.Setenv("KEYSHOP_WEBHOOK_SECRET", "hook-token")
}

func TestDefaults(t *testing.T) {
	withSecret(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "XTR", cfg.Currency)
	assert.Equal(t, DriverFile, cfg.StoreDriver)
	assert.Equal(t, "keyshop.json", cfg.StorePath)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.AdminIDs)
	assert.Equal(t, "hook-token", cfg.WebhookSecret)
}

func TestWebhookSecretIsRequired(t *testing.T) {
	_, err := Load("")
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "webhook_secret")

	t.Setenv("KEYSHOP_WEBHOOK_SECRET", "   ")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestEnvOverrides(t *testing.T) {
	withSecret(t)
	t.Setenv("KEYSHOP_HTTP_ADDR", ":9090")
	t.Setenv("KEYSHOP_ADMIN_IDS", "111, 222,,333")
	t.Setenv("KEYSHOP_STORE_DRIVER", "sqlite")
	t.Setenv("KEYSHOP_STORE_DSN", "/tmp/keyshop.db")
	t.Setenv("KEYSHOP_CURRENCY", "USD")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, []string{"111", "222", "333"}, cfg.AdminIDs)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "USD", cfg.Currency)
}

func TestFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyshop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":7070"
admin_ids: ["1", "2"]
support_contact: "@shop_support"
store_driver: redis
`), 0o644))
	t.Setenv("KEYSHOP_HTTP_ADDR", ":6060")
	withSecret(t)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.HTTPAddr, "env wins over file")
	assert.Equal(t, []string{"1", "2"}, cfg.AdminIDs)
	assert.Equal(t, "@shop_support", cfg.SupportContact)
	assert.Equal(t, DriverRedis, cfg.StoreDriver)
}

func TestValidate(t *testing.T) {
	withSecret(t)
	t.Setenv("KEYSHOP_STORE_DRIVER", "postgres")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalid, "postgres without dsn")

	t.Setenv("KEYSHOP_STORE_DRIVER", "etcd")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
