package geoip_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/outline-sdk-contrib/ostrich-gateway/geoip"
	"github.com/stretchr/testify/require"
)

func TestLookupSeedTable(t *testing.T) {
	db := geoip.New()
	require.Equal(t, "US", db.Lookup(net.ParseIP("8.8.8.8")))
	require.Equal(t, "CN", db.Lookup(net.ParseIP("223.5.5.5")))
	require.Equal(t, "", db.Lookup(net.ParseIP("203.0.113.1")))
}

func TestLookupMostSpecificWins(t *testing.T) {
	db := geoip.New()
	require.Equal(t, "ZZ", db.Lookup(net.ParseIP("10.1.2.3")))

	// The /16 comes first in the file; the /24 must still win inside it.
	path := filepath.Join(t.TempDir(), "nested.csv")
	require.NoError(t, os.WriteFile(path, []byte("10.1.0.0/16,CN\n10.1.2.0/24,US\n"), 0o644))
	require.NoError(t, db.LoadFile(path))
	require.Equal(t, "US", db.Lookup(net.ParseIP("10.1.2.3")))
	require.Equal(t, "CN", db.Lookup(net.ParseIP("10.1.3.1")))
	require.Equal(t, "ZZ", db.Lookup(net.ParseIP("10.2.0.1")))
}

func TestLoadFileOverridesSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.csv")
	require.NoError(t, os.WriteFile(path, []byte("8.8.8.0/24,ZZ\n"), 0o644))

	db := geoip.New()
	require.NoError(t, db.LoadFile(path))
	require.Equal(t, "ZZ", db.Lookup(net.ParseIP("8.8.8.8")))
}
