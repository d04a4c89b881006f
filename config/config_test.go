package config_test

import (
	"testing"

	"github.com/outline-sdk-contrib/ostrich-gateway/config"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
log:
  level: debug
inbounds:
  - tag: socks-in
    protocol: socks5
    settings:
      bind: 127.0.0.1:1080
outbounds:
  - tag: direct
    protocol: direct
router:
  default: direct
  rules:
    - type: domain-suffix
      values: ["example.com"]
      outbound: direct
`

func TestDecodeValid(t *testing.T) {
	cfg, err := config.Decode([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.Inbounds, 1)
	require.Equal(t, "socks-in", cfg.Inbounds[0].Tag)
	require.Equal(t, "direct", cfg.Router.Default)
}

func TestDecodeRejectsMissingTag(t *testing.T) {
	_, err := config.Decode([]byte(`
inbounds:
  - protocol: socks5
`))
	require.Error(t, err)
}

func TestDecodeRejectsDuplicateTag(t *testing.T) {
	_, err := config.Decode([]byte(`
outbounds:
  - tag: direct
    protocol: direct
  - tag: direct
    protocol: direct
`))
	require.Error(t, err)
}

func TestCanonicalKeyIgnoresKeyOrder(t *testing.T) {
	a := config.HandlerConfig{
		Protocol: "trojan",
		Settings: map[string]any{"password": "p", "server": "1.2.3.4:443"},
	}
	b := config.HandlerConfig{
		Protocol: "trojan",
		Settings: map[string]any{"server": "1.2.3.4:443", "password": "p"},
	}
	keyA, err := a.CanonicalKey()
	require.NoError(t, err)
	keyB, err := b.CanonicalKey()
	require.NoError(t, err)
	require.Equal(t, keyA, keyB)
}

func TestCanonicalKeyDiffersOnValue(t *testing.T) {
	a := config.HandlerConfig{Protocol: "trojan", Settings: map[string]any{"password": "p"}}
	b := config.HandlerConfig{Protocol: "trojan", Settings: map[string]any{"password": "q"}}
	keyA, _ := a.CanonicalKey()
	keyB, _ := b.CanonicalKey()
	require.NotEqual(t, keyA, keyB)
}
