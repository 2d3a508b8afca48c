package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civilservant/gratsample"
	"github.com/civilservant/gratsample/internal/config"
)

func TestBuildWithoutReplicaCredentialsLeavesCacheUntouched(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	t.Setenv("CACHE_DIR", root)
	for _, name := range []string{"WMF_MYSQL_USERNAME", "WMF_MYSQL_PASSWORD", "WMF_MYSQL_HOST"} {
		t.Setenv(name, "")
	}
	prev := overrides
	overrides = []string{`{"replica":{"user":"","password":"","host":""}}`}
	t.Cleanup(func() { overrides = prev })

	err := build(context.Background(), gratsample.Thankees)
	require.ErrorIs(t, err, config.ErrMissing)

	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr), "cache root was created: %v", statErr)
}
