package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door7302/jts-collector/internal/hostmgr"
)

func TestNewSelectsTransportByDeviceType(t *testing.T) {
	cfg := Config{Host: "r1", Address: "10.0.0.1"}

	s, err := New(cfg)
	require.NoError(t, err)
	_, ok := s.(*netconfSession)
	assert.True(t, ok, "juniper default should use netconf")

	cfg.DeviceType = "arista"
	s, err = New(cfg)
	require.NoError(t, err)
	_, ok = s.(*httpJSONSession)
	assert.True(t, ok)

	cfg.DeviceType = "unsupported"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestNetconfSessionFactsDefaultToConfiguredHost(t *testing.T) {
	sess := newNetconfSession(Config{Host: "r1"})
	assert.Equal(t, "r1", sess.Facts().Hostname)
}

func TestHTTPJSONSessionFactsDefaultToConfiguredHost(t *testing.T) {
	sess := newHTTPJSONSession(Config{Host: "eos1", DeviceType: "arista"})
	assert.Equal(t, "eos1", sess.Facts().Hostname)
}

func TestExtractBetween(t *testing.T) {
	doc := `<route-information><host-name>r1.example.net</host-name></route-information>`
	assert.Equal(t, "r1.example.net", extractBetween(doc, "<host-name>", "</host-name>"))
	assert.Equal(t, "", extractBetween(doc, "<missing>", "</missing>"))
}

func TestHTTPJSONSessionConnectAndExecute(t *testing.T) {
	var gotAuth string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		gotAuth = user + ":" + pass
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"version":"15.1"}`))
	}))
	defer srv.Close()

	addr := srv.Listener.Addr().String()
	cfg := Config{
		Host:       "eos1",
		Address:    addr,
		DeviceType: "arista",
		Credential: hostmgr.Credential{Username: "admin", Password: "secret"},
		Retry:      1,
	}

	sess := newHTTPJSONSession(cfg)
	sess.client = srv.Client()

	ctx := context.Background()
	require.NoError(t, sess.Connect(ctx))
	assert.True(t, sess.IsConnected())
	assert.Equal(t, "admin:secret", gotAuth)

	body, err := sess.Execute(ctx, "eos/v1/version")
	require.NoError(t, err)
	assert.Contains(t, string(body), "15.1")

	require.NoError(t, sess.Close())
	assert.False(t, sess.IsConnected())
}

func TestHTTPJSONSessionExecuteNonOKStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := Config{Host: "f5-1", Address: srv.Listener.Addr().String(), DeviceType: "f5", Retry: 1}
	sess := newHTTPJSONSession(cfg)
	sess.client = srv.Client()

	_, err := sess.Execute(context.Background(), "mgmt/tm/sys/version")
	assert.Error(t, err)
}

func TestRetryHelpersDefault(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, time.Second, retryWait(cfg))
	assert.Equal(t, 1, retryCount(cfg))

	cfg.RetryWait = 5 * time.Second
	cfg.Retry = 3
	assert.Equal(t, 5*time.Second, retryWait(cfg))
	assert.Equal(t, 3, retryCount(cfg))
}
