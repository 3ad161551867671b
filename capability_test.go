package rdpbridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-orz/rdpbridge"
	"github.com/go-orz/rdpbridge/enginetest"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want rdpbridge.Version
	}{
		{"2.5.1", rdpbridge.Version{Major: 2, Minor: 5, Patch: 1}},
		{"3.0.0-dev", rdpbridge.Version{Major: 3, Minor: 0, Patch: 0, Qualifier: "-dev"}},
		{"2.11.7.42-gabcdef", rdpbridge.Version{Major: 2, Minor: 11, Patch: 7, Qualifier: ".42-gabcdef"}},
	}
	for _, tt := range tests {
		got, err := rdpbridge.ParseVersion(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.in, got.String())
	}

	for _, bad := range []string{"", "3", "3.0", "v3.0.0", "a.b.c", "3.0.x"} {
		_, err := rdpbridge.ParseVersion(bad)
		assert.True(t, errors.Is(err, rdpbridge.ErrMalformedVersion), "%q: %v", bad, err)
	}
}

func TestProbe(t *testing.T) {
	tests := []struct {
		version string
		h264    bool
		wantErr error
	}{
		{"2.5.1", true, nil},
		{"2.6.0", false, nil},
		{"3.0.0-beta1", true, nil},
		{"2.5.0", true, rdpbridge.ErrUnsupportedVersion},
		{"2.4.9", true, rdpbridge.ErrUnsupportedVersion},
		{"1.99.99", true, rdpbridge.ErrUnsupportedVersion},
		{"garbage", true, rdpbridge.ErrMalformedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			eng := enginetest.New()
			eng.VersionString = tt.version
			eng.H264 = tt.h264

			caps, err := rdpbridge.Probe(context.Background(), eng)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Equal(t, rdpbridge.Capabilities{}, caps)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.h264, caps.H264)
			assert.Equal(t, tt.version, caps.Version.String())
		})
	}
}

func TestProbe_EngineUnavailable(t *testing.T) {
	eng := enginetest.New()
	eng.VersionErr = errors.New("library not found")

	_, err := rdpbridge.Probe(context.Background(), eng)
	require.Error(t, err)
	assert.ErrorContains(t, err, "library not found")
}
