package logging_test

import (
	"testing"

	"github.com/outline-sdk-contrib/ostrich-gateway/config"
	"github.com/outline-sdk-contrib/ostrich-gateway/logging"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfo(t *testing.T) {
	logger, err := logging.New(config.LogConfig{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync()
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := logging.New(config.LogConfig{Level: "not-a-level"})
	require.Error(t, err)
}
