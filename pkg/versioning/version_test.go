package versioning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		major   uint64
		minor   uint64
		patch   uint64
		pre     string
		wantErr bool
	}{
		{"1.0.0", 1, 0, 0, "", false},
		{"v1.0.0", 1, 0, 0, "", false},
		{"2.3.4", 2, 3, 4, "", false},
		{"1.0.0-beta.1", 1, 0, 0, "beta.1", false},
		{"1.0.0-rc.1+build.123", 1, 0, 0, "rc.1", false},
		{"invalid", 0, 0, 0, "", true},
		{"", 0, 0, 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.major, got.Major())
			require.Equal(t, tt.minor, got.Minor())
			require.Equal(t, tt.patch, got.Patch())
			require.Equal(t, tt.pre, got.Prerelease())
		})
	}
}

func TestCurrentParses(t *testing.T) {
	_, err := Parse(Current)
	require.NoError(t, err)
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		client, server string
		want           bool
	}{
		{"1.2.0", "1.9.3", true},
		{"1.2.0", "1.0.0", true},
		{"1.2.0", "2.0.0", false},
		{"0.2.0", "0.2.7", true},
		{"0.2.0", "0.3.0", false},
		{"0.2.0", "0.2.1-rc.1", true},
		{"v2.0.0", "2.1.0+meta", true},
	}

	for _, tt := range tests {
		t.Run(tt.client+"->"+tt.server, func(t *testing.T) {
			got, err := Compatible(tt.client, tt.server)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := Compatible("1.0.0", "garbage")
	require.Error(t, err)
}

func TestInfo(t *testing.T) {
	info := Info()
	require.Equal(t, Current, info.Version)
	require.Equal(t, APIVersion, info.API)
	require.True(t, strings.HasPrefix(info.String(), "openleash "+Current))
}
