package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPerPairNaming(t *testing.T) {
	require.Equal(t, "btcusdt-1m-stream", PerPairStream("BTCUSDT", "1m"))
	require.Equal(t, "btcusdt-group", PerPairGroup("BTCUSDT"))
}

func TestNewBuildsAddrFromHostPort(t *testing.T) {
	c := New(Options{Host: "localhost", Port: 6379})
	require.NotNil(t, c)
	_ = c.Close()
}
