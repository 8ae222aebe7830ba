package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door7302/jts-collector/internal/hostmgr"
)

type fakeScheduler struct {
	calls []bool // refresh flag per call
}

func (f *fakeScheduler) AddHosts(hosts map[string]hostmgr.Host, hostTags, cmdTags []string, refresh bool) error {
	f.calls = append(f.calls, refresh)
	return nil
}

func TestRefresherRunOneShotWhenIntervalZero(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hosts.yaml", "r1:\n  address: 10.0.0.1\n  tags: router\n")

	sched := &fakeScheduler{}
	r := &Refresher{Path: path, Retries: 1, RetryWait: time.Millisecond, Scheduler: sched}

	require.NoError(t, r.Run(context.Background()))
	require.Len(t, sched.calls, 1)
	assert.False(t, sched.calls[0], "the first push must not set refresh")
}

func TestRefresherRunRepeatsWithRefreshAfterFirst(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hosts.yaml", "r1:\n  address: 10.0.0.1\n  tags: router\n")

	sched := &fakeScheduler{}
	r := &Refresher{
		Path: path, Retries: 1, RetryWait: time.Millisecond,
		Interval: 10 * time.Millisecond, Scheduler: sched,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	assert.Error(t, err) // context deadline exceeded
	require.GreaterOrEqual(t, len(sched.calls), 2)
	assert.False(t, sched.calls[0])
	assert.True(t, sched.calls[1])
}
