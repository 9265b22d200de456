package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		want    time.Time
		name    string
		input   string
		wantErr bool
	}{
		{name: "empty", input: ""},
		{name: "valid", input: "2024-06-30", want: time.Date(2024, 6, 30, 0, 0, 0, 0, time.Local)},
		{name: "wrong layout", input: "06/30/2024", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDate(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestParseID(t *testing.T) {
	id, err := parseID("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, bad := range []string{"0", "-3", "abc", ""} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestKindNames(t *testing.T) {
	names := kindNames()
	assert.Contains(t, names, "all")
	assert.Contains(t, names, "zombies")
	assert.Contains(t, names, "tip")
}
