// Package hostmgr holds the tri-partite tag-indexed catalog of hosts,
// credentials and command groups, and resolves each host to its
// credential and interval-bucketed command list.
package hostmgr

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "host-manager")

// AuthMethod enumerates the supported credential authentication methods.
type AuthMethod string

const (
	MethodPassword      AuthMethod = "password"
	MethodKey           AuthMethod = "key"
	MethodKeyPassphrase AuthMethod = "key-with-passphrase"
	MethodVault         AuthMethod = "vault"
)

// Host is one network device to be polled.
type Host struct {
	Key        string
	Address    string
	Tags       []string
	Context    []map[string]string
	DeviceType string
}

// Credential is one named group of device login material.
type Credential struct {
	Group    string
	Tags     []string
	Username string
	Method   AuthMethod
	Password string
	KeyFile  string
	Port     int
}

// CommandGroup is a named bundle of device commands with an associated
// polling interval and a tag list controlling which hosts receive it.
type CommandGroup struct {
	Group    string
	Tags     []string
	Commands []string
	Interval time.Duration
}

// Manager owns the host, credential and command catalogs. Credentials and
// commands are fixed at construction time; only the host set is replaced,
// atomically, on each inventory refresh.
type Manager struct {
	mu sync.RWMutex

	credentials []Credential // sorted by Group, for deterministic resolution order
	commands    map[string]CommandGroup

	hosts map[string]Host

	tagRe   map[string]*regexp.Regexp
	tagReMu sync.Mutex
}

// New validates and stores the credential and command catalogs. Entries
// that fail validation are warned about and skipped, never aborting the
// whole load.
func New(credentials map[string]Credential, commands map[string]CommandGroup) (*Manager, error) {
	m := &Manager{
		commands: make(map[string]CommandGroup),
		hosts:    make(map[string]Host),
		tagRe:    make(map[string]*regexp.Regexp),
	}

	for name, c := range commands {
		if len(c.Tags) == 0 {
			log.WithField("group", name).Warn("command group has no tags, skipping")
			continue
		}
		if len(c.Commands) == 0 {
			log.WithField("group", name).Warn("command group has no commands, skipping")
			continue
		}
		if c.Interval <= 0 {
			c.Interval = 120 * time.Second
		}
		c.Group = name
		m.commands[name] = c
	}

	names := make([]string, 0, len(credentials))
	for name := range credentials {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := credentials[name]
		if len(c.Tags) == 0 {
			log.WithField("group", name).Warn("credential has no tags, skipping")
			continue
		}
		if c.Username == "" {
			log.WithField("group", name).Warn("credential has no username, skipping")
			continue
		}
		if c.Method == "" {
			c.Method = MethodPassword
		}
		if (c.Method == MethodPassword || c.Method == MethodKeyPassphrase) && c.Password == "" {
			log.WithField("group", name).Warn("credential requires a password for its method, skipping")
			continue
		}
		if (c.Method == MethodKey || c.Method == MethodKeyPassphrase) && c.KeyFile == "" {
			log.WithField("group", name).Warn("credential requires a key-file for its method, skipping")
			continue
		}
		if c.Port == 0 {
			c.Port = 22
		}
		c.Group = name
		m.credentials = append(m.credentials, c)
	}

	return m, nil
}

// UpdateHosts atomically replaces the host catalog. Hosts missing a tags
// list or an address are warned about and dropped.
func (m *Manager) UpdateHosts(hosts map[string]Host) error {
	clean := make(map[string]Host, len(hosts))
	for key, h := range hosts {
		if len(h.Tags) == 0 {
			log.WithField("host", key).Warn("host has no tags, skipping")
			continue
		}
		if h.Address == "" {
			log.WithField("host", key).Warn("host has no address, skipping")
			continue
		}
		if h.DeviceType == "" {
			h.DeviceType = "juniper"
		}
		h.Key = key
		clean[key] = h
	}

	m.mu.Lock()
	m.hosts = clean
	m.mu.Unlock()
	return nil
}

// tagsMatch reports whether a and b match under the case-insensitive,
// bidirectional regex-search relation the catalog uses throughout: either
// regex(a) found in b, or regex(b) found in a.
func (m *Manager) tagsMatch(a, b string) bool {
	return m.compile(a).MatchString(b) || m.compile(b).MatchString(a)
}

func (m *Manager) compile(pattern string) *regexp.Regexp {
	m.tagReMu.Lock()
	defer m.tagReMu.Unlock()
	if re, ok := m.tagRe[pattern]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		// An uncompilable pattern can never match; cache a regex that
		// matches nothing so repeated lookups don't keep re-failing.
		re = regexp.MustCompile(`$.^`)
	}
	m.tagRe[pattern] = re
	return re
}

// GetTargetHosts returns the sorted, deduplicated set of host keys whose
// tag set intersects, by regex, any of the supplied tags.
func (m *Manager) GetTargetHosts(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make(map[string]struct{})
	for _, tag := range tags {
		for key, h := range m.hosts {
			for _, hostTag := range h.Tags {
				if m.tagsMatch(tag, hostTag) {
					matched[key] = struct{}{}
					break
				}
			}
		}
	}

	out := make([]string, 0, len(matched))
	for key := range matched {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// GetTargetCommands returns the command groups that apply to host: first
// filtered by host tags, then by cmdTags (default [".*"]).
func (m *Manager) GetTargetCommands(host string, cmdTags []string) ([]CommandGroup, error) {
	if len(cmdTags) == 0 {
		cmdTags = []string{".*"}
	}

	m.mu.RLock()
	h, ok := m.hosts[host]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("hostmgr: unknown host %q", host)
	}

	var stage1 []CommandGroup
	for _, cg := range m.commands {
		for _, hostTag := range h.Tags {
			matched := false
			for _, cmdTag := range cg.Tags {
				if m.tagsMatch(hostTag, cmdTag) {
					matched = true
					break
				}
			}
			if matched {
				stage1 = append(stage1, cg)
				break
			}
		}
	}

	seen := make(map[string]struct{})
	var out []CommandGroup
	for _, cg := range stage1 {
		if _, dup := seen[cg.Group]; dup {
			continue
		}
		for _, tag := range cmdTags {
			matched := false
			for _, cmdTag := range cg.Tags {
				if m.tagsMatch(tag, cmdTag) {
					matched = true
					break
				}
			}
			if matched {
				out = append(out, cg)
				seen[cg.Group] = struct{}{}
				break
			}
		}
	}
	return out, nil
}

// GetCredentials returns the first credential, in sorted group-name order,
// whose tags match any of the host's tags.
func (m *Manager) GetCredentials(host string) (Credential, bool) {
	m.mu.RLock()
	h, ok := m.hosts[host]
	m.mu.RUnlock()
	if !ok {
		return Credential{}, false
	}

	for _, cred := range m.credentials {
		for _, hostTag := range h.Tags {
			for _, credTag := range cred.Tags {
				if m.tagsMatch(hostTag, credTag) {
					return cred, true
				}
			}
		}
	}
	return Credential{}, false
}

// GetContext returns the host's ordered context key/value pairs.
func (m *Manager) GetContext(host string) []map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hosts[host]
	if !ok {
		return nil
	}
	return h.Context
}

// GetAddress returns the host's network address.
func (m *Manager) GetAddress(host string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hosts[host]
	if !ok {
		return "", false
	}
	return h.Address, true
}

// GetDeviceType returns the host's device-kind discriminator, defaulting
// to "juniper".
func (m *Manager) GetDeviceType(host string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hosts[host]
	if !ok || h.DeviceType == "" {
		return "juniper"
	}
	return h.DeviceType
}

// FlattenContext merges an ordered context list into a single map, last
// value wins on key collision (matching the original's dict comprehension
// over a list of single-key maps).
func FlattenContext(context []map[string]string) map[string]string {
	out := make(map[string]string)
	for _, entry := range context {
		for k, v := range entry {
			out[k] = v
		}
	}
	return out
}

// ParseTags accepts a tags field expressed as either a whitespace-separated
// string or a list, as the credentials/commands YAML permits.
func ParseTags(raw interface{}) ([]string, bool) {
	switch v := raw.(type) {
	case string:
		fields := strings.Fields(v)
		return fields, true
	case []string:
		return v, true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
