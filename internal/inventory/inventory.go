// Package inventory loads the host catalog from a YAML file or an
// executable dynamic-inventory script, with bounded retry, and applies
// shard partitioning across a fleet of cooperating agent instances.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/door7302/jts-collector/internal/hostmgr"
)

var log = logrus.WithField("component", "inventory")

// rawHost mirrors the on-disk/script host entry shape before it is
// normalized into hostmgr.Host. A host entry is either the structured
// form below, or a legacy bare whitespace-separated tag string, in which
// case the host's own key doubles as its address.
type rawHost struct {
	Address       string              `yaml:"address" json:"address"`
	Tags          interface{}         `yaml:"tags" json:"tags"`
	Context       []map[string]string `yaml:"context" json:"context"`
	DeviceType    string              `yaml:"device-type" json:"device-type"`
	legacyAddress bool
}

// rawHostAlias has rawHost's fields without its UnmarshalYAML/UnmarshalJSON
// methods, so the struct-shape fallback below can decode into it without
// recursing back into the custom unmarshaller.
type rawHostAlias rawHost

// UnmarshalYAML accepts either the structured map shape or a legacy bare
// string of whitespace-separated tags, matching update_hosts's
// isinstance(inventory[host], str) branch in the original host manager.
func (rh *rawHost) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		rh.Tags = s
		rh.legacyAddress = true
		return nil
	}

	var alias rawHostAlias
	if err := unmarshal(&alias); err != nil {
		return err
	}
	*rh = rawHost(alias)
	return nil
}

// UnmarshalJSON mirrors UnmarshalYAML for the dynamic-inventory-script
// (JSON stdout) loading path.
func (rh *rawHost) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		rh.Tags = s
		rh.legacyAddress = true
		return nil
	}

	var alias rawHostAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*rh = rawHost(alias)
	return nil
}

// Load reads path as a YAML inventory file first; if that fails, it
// treats path as an executable producing a JSON host map on stdout.
// At most retries attempts are made (3 when retries is below 1), on a
// fixed wait between attempts, returning an error only once every attempt
// has failed or produced an empty result.
func Load(ctx context.Context, path string, retries int, wait time.Duration) (map[string]hostmgr.Host, error) {
	if retries < 1 {
		retries = 3
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}

	var hosts map[string]hostmgr.Host
	attempt := 0
	operation := func() error {
		attempt++
		raw, err := loadOnce(path)
		if err != nil {
			log.WithField("file", path).WithField("attempt", attempt).WithError(err).Debug("inventory load attempt failed")
			return err
		}
		if len(raw) == 0 {
			return fmt.Errorf("inventory: %s produced zero hosts", path)
		}
		hosts = normalize(raw)
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(wait), uint64(retries-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		log.WithField("file", path).WithField("attempts", attempt).Error("unable to import inventory after all retries")
		return nil, fmt.Errorf("inventory: loading %s: %w", path, err)
	}
	return hosts, nil
}

// loadOnce tries YAML decoding, then falls back to executing path and
// decoding its stdout as a JSON host map.
func loadOnce(path string) (map[string]rawHost, error) {
	if data, err := os.ReadFile(path); err == nil {
		var hosts map[string]rawHost
		if yamlErr := yaml.Unmarshal(data, &hosts); yamlErr == nil && len(hosts) > 0 {
			return hosts, nil
		}
	}

	cmd := exec.Command(path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("executing inventory script %s: %w (stderr: %s)", path, err, stderr.String())
	}

	var hosts map[string]rawHost
	if err := json.Unmarshal(stdout.Bytes(), &hosts); err != nil {
		return nil, fmt.Errorf("decoding inventory script output from %s: %w", path, err)
	}
	return hosts, nil
}

func normalize(raw map[string]rawHost) map[string]hostmgr.Host {
	hosts := make(map[string]hostmgr.Host, len(raw))
	for key, rh := range raw {
		tags, ok := hostmgr.ParseTags(rh.Tags)
		if !ok {
			log.WithField("host", key).Warn("inventory host has malformed tags, skipping")
			continue
		}
		address := rh.Address
		if rh.legacyAddress {
			address = key
		}
		hosts[key] = hostmgr.Host{
			Key:        key,
			Address:    address,
			Tags:       tags,
			Context:    rh.Context,
			DeviceType: rh.DeviceType,
		}
	}
	return hosts
}

// Shard returns the subset of hosts belonging to shard shardID out of
// shardSize, partitioning the sorted host-key list by index modulo
// shardSize. shardID is 1-based; a shardID of 0 or greater than
// shardSize yields an empty result, matching the bounds check the
// original sharding flag enforces.
func Shard(hosts map[string]hostmgr.Host, shardID, shardSize int) map[string]hostmgr.Host {
	if shardID == 0 || shardID > shardSize {
		log.WithField("shard_id", shardID).WithField("shard_size", shardSize).Error("invalid sharding parameters")
		return nil
	}

	keys := make([]string, 0, len(hosts))
	for k := range hosts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bucket := shardID - 1
	out := make(map[string]hostmgr.Host)
	for i, k := range keys {
		if i%shardSize == bucket {
			out[k] = hosts[k]
		}
	}
	log.WithField("shard_id", shardID).WithField("shard_size", shardSize).WithField("total", len(hosts)).WithField("selected", len(out)).Info("sharded host list")
	return out
}
