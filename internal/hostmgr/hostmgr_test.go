package hostmgr

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalog(t *testing.T) *Manager {
	t.Helper()

	credentials := map[string]Credential{
		"lab": {
			Tags:     []string{"site1"},
			Username: "lab-user",
			Method:   MethodPassword,
			Password: "lab-pass",
		},
	}

	commands := map[string]CommandGroup{
		"a": {
			Tags:     []string{"router"},
			Commands: []string{"show version"},
			Interval: 60 * time.Second,
		},
		"b": {
			Tags:     []string{"router", "switch"},
			Commands: []string{"show env"},
			Interval: 60 * time.Second,
		},
		"c": {
			Tags:     []string{"switch"},
			Commands: []string{"show chassis"},
			Interval: 60 * time.Second,
		},
	}

	m, err := New(credentials, commands)
	require.NoError(t, err)

	require.NoError(t, m.UpdateHosts(map[string]Host{
		"r1": {Address: "10.0.0.1", Tags: []string{"router", "site1", "lab"}},
		"s1": {Address: "10.0.0.2", Tags: []string{"switch", "site1", "lab"}},
	}))
	return m
}

func commandSet(groups []CommandGroup) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g.Commands...)
	}
	sort.Strings(out)
	return out
}

func TestGetTargetCommandsRouterAndSwitch(t *testing.T) {
	m := newCatalog(t)

	r1, err := m.GetTargetCommands("r1", []string{".*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"show env", "show version"}, commandSet(r1))

	s1, err := m.GetTargetCommands("s1", []string{".*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"show chassis", "show env"}, commandSet(s1))
}

func TestGetTargetCommandsUnknownHost(t *testing.T) {
	m := newCatalog(t)
	_, err := m.GetTargetCommands("missing", nil)
	assert.Error(t, err)
}

func TestGetTargetHostsBidirectionalMatch(t *testing.T) {
	m := newCatalog(t)

	// "rout" is a substring-regex of the host tag "router": matches via
	// regex(tag) found in hostTag.
	assert.Equal(t, []string{"r1"}, m.GetTargetHosts([]string{"rout"}))

	// "site1-east" is broader than the host tag "site1": the host tag,
	// used as a regex, is found in the lookup tag, via regex(hostTag) in tag.
	assert.ElementsMatch(t, []string{"r1", "s1"}, m.GetTargetHosts([]string{"site1-east"}))
}

func TestGetTargetHostsCaseInsensitive(t *testing.T) {
	m := newCatalog(t)
	assert.Equal(t, []string{"r1"}, m.GetTargetHosts([]string{"ROUTER"}))
}

func TestGetCredentialsMatchesByTag(t *testing.T) {
	m := newCatalog(t)

	cred, ok := m.GetCredentials("r1")
	require.True(t, ok)
	assert.Equal(t, "lab", cred.Group)
	assert.Equal(t, "lab-user", cred.Username)

	_, ok = m.GetCredentials("unknown")
	assert.False(t, ok)
}

func TestGetDeviceTypeDefaultsToJuniper(t *testing.T) {
	m := newCatalog(t)
	assert.Equal(t, "juniper", m.GetDeviceType("r1"))
}

func TestUpdateHostsDropsInvalidEntries(t *testing.T) {
	m := newCatalog(t)

	require.NoError(t, m.UpdateHosts(map[string]Host{
		"good":   {Address: "10.0.0.3", Tags: []string{"router"}},
		"notags": {Address: "10.0.0.4"},
		"noaddr": {Tags: []string{"router"}},
	}))

	hosts := m.GetTargetHosts([]string{".*"})
	assert.Equal(t, []string{"good"}, hosts)
}

func TestUpdateHostsReplacesWholesaleWithoutTouchingCredentials(t *testing.T) {
	m := newCatalog(t)

	require.NoError(t, m.UpdateHosts(map[string]Host{
		"r2": {Address: "10.0.0.5", Tags: []string{"router", "site1", "lab"}},
	}))

	assert.Equal(t, []string{"r2"}, m.GetTargetHosts([]string{".*"}))
	cred, ok := m.GetCredentials("r2")
	require.True(t, ok)
	assert.Equal(t, "lab", cred.Group)
}

func TestFlattenContextLastWriteWins(t *testing.T) {
	ctx := []map[string]string{
		{"env": "dev"},
		{"env": "prod"},
		{"region": "us"},
	}
	flat := FlattenContext(ctx)
	assert.Equal(t, "prod", flat["env"])
	assert.Equal(t, "us", flat["region"])
}

func TestParseTagsAcceptsStringOrList(t *testing.T) {
	tags, ok := ParseTags("router site1 lab")
	require.True(t, ok)
	assert.Equal(t, []string{"router", "site1", "lab"}, tags)

	tags, ok = ParseTags([]interface{}{"router", "site1"})
	require.True(t, ok)
	assert.Equal(t, []string{"router", "site1"}, tags)

	_, ok = ParseTags(42)
	assert.False(t, ok)
}
