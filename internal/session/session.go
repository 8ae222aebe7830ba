// Package session opens and drives a connection to a single network
// device, abstracting the NETCONF/Junos and JSON-over-HTTPS transports
// behind one capability interface.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/door7302/jts-collector/internal/hostmgr"
)

var log = logrus.WithField("component", "session")

// Facts are the device-identity attributes gathered right after connect.
type Facts struct {
	Hostname string
	Model    string
	Version  string
}

// Session is the capability surface the collector drives: connect once,
// execute many commands, close once.
type Session interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	CollectFacts(ctx context.Context) error
	Execute(ctx context.Context, command string) ([]byte, error)
	Facts() Facts
	Context() []map[string]string
	Close() error
}

// Config bundles everything a Session needs to dial and authenticate to
// one host, independent of transport.
type Config struct {
	Host        string
	Address     string
	DeviceType  string // "juniper" (NETCONF), "arista" or "f5" (JSON over HTTPS)
	Credential  hostmgr.Credential
	Context     []map[string]string
	UseHostname bool
	Retry       int
	RetryWait   time.Duration
}

// New constructs the Session implementation matching cfg.DeviceType.
func New(cfg Config) (Session, error) {
	switch cfg.DeviceType {
	case "", "juniper":
		return newNetconfSession(cfg), nil
	case "arista", "f5":
		return newHTTPJSONSession(cfg), nil
	default:
		return nil, fmt.Errorf("session: unsupported device type %q", cfg.DeviceType)
	}
}

func retryWait(cfg Config) time.Duration {
	if cfg.RetryWait > 0 {
		return cfg.RetryWait
	}
	return time.Second
}

func retryCount(cfg Config) int {
	if cfg.Retry > 0 {
		return cfg.Retry
	}
	return 1
}
