package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_DisconnectTimeoutMatchesSpec(t *testing.T) {
	cfg := Default()
	require.EqualValues(t, 3000, cfg.DisconnectTimeoutMs)
}

func TestDefault_TDMDisabledByDefault(t *testing.T) {
	cfg := Default()
	require.False(t, cfg.TDMEnabled, "TDM is Pro-hardware only and must be opted into")
}
