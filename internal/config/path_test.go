package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabasePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("SPICE_TEST_DIR", "/srv/spice")

	tests := []struct {
		name       string
		configured string
		want       string
	}{
		{name: "default", configured: "", want: filepath.Join(home, ".local/share/spice/sentinel.db")},
		{name: "tilde", configured: "~/data/s.db", want: filepath.Join(home, "data/s.db")},
		{name: "env", configured: "$SPICE_TEST_DIR/s.db", want: "/srv/spice/s.db"},
		{name: "absolute", configured: "/tmp/s.db", want: "/tmp/s.db"},
		{name: "memory", configured: ":memory:", want: ":memory:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DatabasePath(tt.configured))
		})
	}
}
