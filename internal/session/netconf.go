package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openshift-telco/go-netconf-client/netconf"
	"github.com/openshift-telco/go-netconf-client/netconf/message"
	"golang.org/x/crypto/ssh"

	"github.com/door7302/jts-collector/internal/hostmgr"
)

const netconfPort = 830

// netconfSession drives a Junos device over NETCONF/SSH.
type netconfSession struct {
	cfg    Config
	client *netconf.Session
	facts  Facts
	closed bool
}

func newNetconfSession(cfg Config) *netconfSession {
	return &netconfSession{cfg: cfg, facts: Facts{Hostname: cfg.Host}}
}

func (s *netconfSession) sshConfig() (*ssh.ClientConfig, error) {
	cred := s.cfg.Credential
	cfg := &ssh.ClientConfig{
		User:            cred.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	switch cred.Method {
	case hostmgr.MethodPassword, "":
		cfg.Auth = []ssh.AuthMethod{ssh.Password(cred.Password)}
	case hostmgr.MethodKey, hostmgr.MethodKeyPassphrase:
		signer, err := loadSigner(cred)
		if err != nil {
			return nil, err
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		return nil, fmt.Errorf("netconf: unsupported auth method %q", cred.Method)
	}
	return cfg, nil
}

func loadSigner(cred hostmgr.Credential) (ssh.Signer, error) {
	return nil, fmt.Errorf("netconf: key-based auth requires a configured key loader for %q", cred.Group)
}

// Connect dials the NETCONF/SSH endpoint, retrying cfg.Retry times on a
// fixed cfg.RetryWait backoff (one second when unset), matching the
// bounded-retry loop the device connectors use elsewhere in this agent.
func (s *netconfSession) Connect(ctx context.Context) error {
	port := netconfPort
	if s.cfg.Credential.Port != 0 && s.cfg.Credential.Port != 22 {
		port = s.cfg.Credential.Port
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, port)

	sshCfg, err := s.sshConfig()
	if err != nil {
		return err
	}

	operation := func() error {
		client, dialErr := netconf.DialSSH(addr, sshCfg)
		if dialErr != nil {
			log.WithField("host", s.cfg.Host).WithError(dialErr).Debug("netconf dial failed, retrying")
			return dialErr
		}
		s.client = client
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryWait(s.cfg)), uint64(retryCount(s.cfg))),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("netconf: unable to connect to %s: %w", s.cfg.Host, err)
	}

	if err := s.client.SendHello(&message.Hello{Capabilities: netconf.DefaultCapabilities}); err != nil {
		s.client.Close()
		s.client = nil
		return fmt.Errorf("netconf: hello exchange with %s failed: %w", s.cfg.Host, err)
	}
	return nil
}

func (s *netconfSession) IsConnected() bool {
	return s.client != nil && !s.closed
}

// CollectFacts issues "show version" and extracts hostname/model/version,
// substituting the resolved hostname for the configured host key when
// UseHostname is set and they disagree.
func (s *netconfSession) CollectFacts(ctx context.Context) error {
	raw, err := s.Execute(ctx, "show version")
	if err != nil {
		return fmt.Errorf("netconf: collecting facts from %s: %w", s.cfg.Host, err)
	}
	text := string(raw)
	hostname := s.cfg.Host
	// Without UseHostname, or with no <host-name> in the reply, the
	// catalog key stays the device identity.
	if reported := extractBetween(text, "<host-name>", "</host-name>"); s.cfg.UseHostname && reported != "" {
		hostname = reported
		s.cfg.Host = reported
	}
	s.facts = Facts{
		Hostname: hostname,
		Model:    extractBetween(text, "<product-model>", "</product-model>"),
		Version:  extractBetween(text, "<junos-version>", "</junos-version>"),
	}
	return nil
}

func extractBetween(text, start, end string) string {
	i := strings.Index(text, start)
	if i < 0 {
		return ""
	}
	i += len(start)
	j := strings.Index(text[i:], end)
	if j < 0 {
		return ""
	}
	return strings.TrimSpace(text[i : i+j])
}

// Execute runs command as a Junos "cli" RPC and returns the raw XML reply.
func (s *netconfSession) Execute(ctx context.Context, command string) ([]byte, error) {
	if s.client == nil {
		return nil, fmt.Errorf("netconf: session to %s is not connected", s.cfg.Host)
	}
	rpc := message.NewRPC(fmt.Sprintf(`<command format="xml">%s</command>`, command))
	reply, err := s.client.SyncRPC(rpc, 60)
	if err != nil {
		return nil, fmt.Errorf("netconf: rpc %q to %s failed: %w", command, s.cfg.Host, err)
	}
	if reply == nil || strings.Contains(reply.Data, "<rpc-error>") {
		return nil, fmt.Errorf("netconf: rpc %q to %s returned an rpc-error", command, s.cfg.Host)
	}
	return []byte(reply.Data), nil
}

func (s *netconfSession) Facts() Facts { return s.facts }

func (s *netconfSession) Context() []map[string]string { return s.cfg.Context }

func (s *netconfSession) Close() error {
	if s.client == nil || s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
