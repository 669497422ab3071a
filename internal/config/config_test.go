package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	doc := `
name: area1-router
address: "1.5"
kind: l1router
routing:
  max_hops: 20
circuits:
  - name: eth0
    kind: lan
    transport: loopback
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	n, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "area1-router", n.Name)
	require.Equal(t, KindL1Router, n.Kind)
	require.Equal(t, 20, n.Routing.MaxHops, "override should replace the default max_hops")
	require.Equal(t, 1022, n.Routing.MaxCost, "unset fields should keep their default")
	require.Equal(t, 8*time.Minute, n.MOP.SysIdMinInterval)
	require.Len(t, n.Circuits, 1)
	require.Equal(t, "eth0", n.Circuits[0].Name)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	require.Error(t, err)
}

func TestNode_ParseAddress(t *testing.T) {
	n := Default()
	n.Address = "2.100"
	addr, err := n.ParseAddress()
	require.NoError(t, err)
	require.Equal(t, 2, addr.Area())
	require.Equal(t, 100, addr.ID())
}
