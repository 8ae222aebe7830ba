package inventory

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door7302/jts-collector/internal/hostmgr"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAMLInventory(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hosts.yaml", `
r1:
  address: 10.0.0.1
  tags: "router site1 lab"
s1:
  address: 10.0.0.2
  tags:
    - switch
    - site1
    - lab
`)

	hosts, err := Load(context.Background(), path, 1, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "10.0.0.1", hosts["r1"].Address)
	assert.ElementsMatch(t, []string{"router", "site1", "lab"}, hosts["r1"].Tags)
	assert.ElementsMatch(t, []string{"switch", "site1", "lab"}, hosts["s1"].Tags)
}

func TestLoadYAMLInventoryLegacyStringEntry(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hosts.yaml", `
r1: router site1 lab
s1:
  address: 10.0.0.2
  tags:
    - switch
    - site1
`)

	hosts, err := Load(context.Background(), path, 1, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "r1", hosts["r1"].Address)
	assert.ElementsMatch(t, []string{"router", "site1", "lab"}, hosts["r1"].Tags)
	assert.Equal(t, "10.0.0.2", hosts["s1"].Address)
}

func TestLoadExecutableInventoryLegacyStringEntry(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shebang scripts require a POSIX shell")
	}
	dir := t.TempDir()
	script := writeFile(t, dir, "inventory.sh", "#!/bin/sh\necho '{\"r1\": \"router site1\"}'\n")
	require.NoError(t, os.Chmod(script, 0o755))

	hosts, err := Load(context.Background(), script, 1, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "r1", hosts["r1"].Address)
	assert.ElementsMatch(t, []string{"router", "site1"}, hosts["r1"].Tags)
}

func TestLoadExecutableInventory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shebang scripts require a POSIX shell")
	}
	dir := t.TempDir()
	script := writeFile(t, dir, "inventory.sh", "#!/bin/sh\necho '{\"r1\": {\"address\": \"10.0.0.1\", \"tags\": \"router\"}}'\n")
	require.NoError(t, os.Chmod(script, 0o755))

	hosts, err := Load(context.Background(), script, 1, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "10.0.0.1", hosts["r1"].Address)
}

func TestLoadFailsAfterExhaustingRetries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.yaml")

	_, err := Load(context.Background(), path, 2, time.Millisecond)
	assert.Error(t, err)
}

func TestShardPartitionsBySortedKeyModulo(t *testing.T) {
	hosts := map[string]hostmgr.Host{
		"a": {Address: "1"},
		"b": {Address: "2"},
		"c": {Address: "3"},
		"d": {Address: "4"},
	}

	shard1 := Shard(hosts, 1, 2)
	shard2 := Shard(hosts, 2, 2)

	assert.ElementsMatch(t, []string{"a", "c"}, keysOf(shard1))
	assert.ElementsMatch(t, []string{"b", "d"}, keysOf(shard2))
}

func TestShardRejectsOutOfRangeID(t *testing.T) {
	hosts := map[string]hostmgr.Host{"a": {}}
	assert.Nil(t, Shard(hosts, 0, 2))
	assert.Nil(t, Shard(hosts, 3, 2))
}

func keysOf(hosts map[string]hostmgr.Host) []string {
	out := make([]string, 0, len(hosts))
	for k := range hosts {
		out = append(out, k)
	}
	return out
}
