package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// httpJSONSession drives an Arista EOS (eAPI) or F5 BIG-IP (iControl REST)
// device over HTTPS, returning raw JSON bodies for the parser registry's
// json kind.
type httpJSONSession struct {
	cfg     Config
	client  *http.Client
	facts   Facts
	reached bool
}

func newHTTPJSONSession(cfg Config) *httpJSONSession {
	return &httpJSONSession{
		cfg:   cfg,
		facts: Facts{Hostname: cfg.Host},
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // devices typically carry self-signed certs
			},
		},
	}
}

// Connect performs a bounded-retry reachability probe; the JSON transport
// is otherwise stateless, one request per command.
func (s *httpJSONSession) Connect(ctx context.Context) error {
	operation := func() error {
		req, err := s.newRequest(ctx, s.probeCommand())
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			log.WithField("host", s.cfg.Host).WithError(err).Debug("http probe failed, retrying")
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("session: probe to %s returned %d", s.cfg.Host, resp.StatusCode)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), uint64(retryCount(s.cfg))),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("session: unable to reach %s: %w", s.cfg.Host, err)
	}
	s.reached = true
	return nil
}

func (s *httpJSONSession) probeCommand() string {
	switch s.cfg.DeviceType {
	case "f5":
		return "mgmt/tm/sys/version"
	default:
		return "command-api"
	}
}

func (s *httpJSONSession) IsConnected() bool { return s.reached }

// CollectFacts resolves a product-version string via the device-type
// specific facts endpoint. Unlike NETCONF, the JSON transport never
// substitutes the configured host key with a device-reported hostname.
func (s *httpJSONSession) CollectFacts(ctx context.Context) error {
	cmd := "mgmt/tm/sys/version"
	if s.cfg.DeviceType != "f5" {
		cmd = "eos/v1/version"
	}
	raw, err := s.Execute(ctx, cmd)
	if err != nil {
		return fmt.Errorf("session: collecting facts from %s: %w", s.cfg.Host, err)
	}
	s.facts = Facts{Hostname: s.cfg.Host, Version: string(raw)}
	return nil
}

func (s *httpJSONSession) newRequest(ctx context.Context, path string) (*http.Request, error) {
	url := fmt.Sprintf("https://%s/%s", s.cfg.Address, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("session: building request for %s: %w", url, err)
	}
	cred := s.cfg.Credential
	if cred.Password != "" || cred.Username != "" {
		req.SetBasicAuth(cred.Username, cred.Password)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Execute issues a GET against the device's REST API and returns the
// JSON body verbatim for downstream parsing.
func (s *httpJSONSession) Execute(ctx context.Context, command string) ([]byte, error) {
	req, err := s.newRequest(ctx, command)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session: request %q to %s failed: %w", command, s.cfg.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("session: reading response from %s: %w", s.cfg.Host, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("session: %q against %s returned status %d", command, s.cfg.Host, resp.StatusCode)
	}
	return body, nil
}

func (s *httpJSONSession) Facts() Facts { return s.facts }

func (s *httpJSONSession) Context() []map[string]string { return s.cfg.Context }

func (s *httpJSONSession) Close() error {
	s.reached = false
	return nil
}
