package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/a-essam23/go-huddle/pkg/config"
	"github.com/a-essam23/go-huddle/pkg/logging"
	"github.com/stretchr/testify/require"
)

func TestParseLimit(t *testing.T) {
	testCases := []struct {
		raw     string
		want    config.Limit
		wantErr bool
	}{
		{raw: "10/s", want: config.Limit{Count: 10, Per: time.Second}},
		{raw: "5/m", want: config.Limit{Count: 5, Per: time.Minute}},
		{raw: " 100/H ", want: config.Limit{Count: 100, Per: time.Hour}},
		{raw: "10", wantErr: true},
		{raw: "x/m", wantErr: true},
		{raw: "0/m", wantErr: true},
		{raw: "3/d", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := config.ParseLimit(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestLimitString(t *testing.T) {
	require.Equal(t, "5/m", config.Limit{Count: 5, Per: time.Minute}.String())
	require.Equal(t, "1/h", config.Limit{Count: 1, Per: time.Hour}.String())
}

func TestCompileLimits(t *testing.T) {
	limits, err := config.CompileLimits(map[string]string{"CreateNote": "2/s"})
	require.NoError(t, err)
	require.Equal(t, config.Limit{Count: 2, Per: time.Second}, limits["createnote"])

	_, err = config.CompileLimits(map[string]string{"CreateNote": "often"})
	require.ErrorContains(t, err, "CreateNote")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \":9000\"\n")

	cfg, err := config.Load(logging.Discard(), path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Address)
	require.True(t, cfg.Server.Auth.AllowGuests)
	require.Equal(t, "reject", cfg.Server.ConnectionLimit.Mode)
	require.Equal(t, time.Minute, cfg.Transport.ReadTimeout)
	require.Equal(t, time.Second, cfg.Protocol.Debounce)
	require.True(t, cfg.Protocol.SerializeAdvances)
	require.Equal(t, "memory", cfg.Store.Driver)
	require.Empty(t, cfg.Limits)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  connectionLimit:
    maxPerUser: 3
    mode: cycle
protocol:
  debounce: 250ms
  serializeAdvances: false
limits:
  CreateNote: 10/m
  AdvanceProtocol: 2/s
`)
	t.Setenv("GOHUDDLE_SERVER_AUTH_JWTSECRET", "from-env")

	cfg, err := config.Load(logging.Discard(), path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Server.Auth.JWTSecret)
	require.Equal(t, 3, cfg.Server.ConnectionLimit.MaxPerUser)
	require.Equal(t, "cycle", cfg.Server.ConnectionLimit.Mode)
	require.Equal(t, 250*time.Millisecond, cfg.Protocol.Debounce)
	require.False(t, cfg.Protocol.SerializeAdvances)
	require.Equal(t, config.Limit{Count: 10, Per: time.Minute}, cfg.Limits["createnote"])
	require.Equal(t, config.Limit{Count: 2, Per: time.Second}, cfg.Limits["advanceprotocol"])
}

func TestLoadRejectsInvalid(t *testing.T) {
	testCases := map[string]string{
		"bad mode":     "server:\n  connectionLimit:\n    mode: drop\n",
		"bad driver":   "store:\n  driver: sqlite\n",
		"postgres url": "store:\n  driver: postgres\n",
		"bad limit":    "limits:\n  CreateNote: lots\n",
		"missing file": "",
	}
	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.yaml")
			if body != "" {
				path = writeConfig(t, body)
			}
			_, err := config.Load(logging.Discard(), path)
			require.Error(t, err)
		})
	}
}
