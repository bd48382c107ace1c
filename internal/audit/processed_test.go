package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger is an in-memory Ledger standing in for the store.
type fakeLedger struct {
	mu      sync.Mutex
	apps    map[string]bool
	failOn  string
	marked  int
	cleared int
}

func newFakeLedger(apps ...string) *fakeLedger {
	l := &fakeLedger{apps: make(map[string]bool)}
	for _, a := range apps {
		l.apps[a] = true
	}
	return l
}

func (l *fakeLedger) ListProcessed(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.apps))
	for a := range l.apps {
		out = append(out, a)
	}
	return out, nil
}

func (l *fakeLedger) MarkProcessed(ctx context.Context, appID string, stages, records int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if appID == l.failOn {
		return errors.New("ledger write failed")
	}
	l.apps[appID] = true
	l.marked++
	return nil
}

func (l *fakeLedger) ClearProcessed(ctx context.Context, appID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.apps, appID)
	l.cleared++
	return nil
}

func TestRefresh_RebuildsFromLedger(t *testing.T) {
	ledger := newFakeLedger("app-1", "app-2")
	set := NewSet(ledger)

	require.NoError(t, set.Refresh(context.Background()))
	assert.True(t, set.Contains("app-1"))
	assert.True(t, set.Contains("app-2"))
	assert.False(t, set.Contains("app-3"))
	assert.Equal(t, 2, set.Len())
}

func TestClaim_SkipsProcessed(t *testing.T) {
	set := NewSet(newFakeLedger("app-1"))
	require.NoError(t, set.Refresh(context.Background()))

	assert.False(t, set.Claim("app-1", false), "processed application must not be claimed")
	assert.True(t, set.Claim("app-2", false))
	assert.False(t, set.Claim("app-2", false), "second claim of same application must lose")
}

func TestClaim_ForceReclaimsProcessed(t *testing.T) {
	set := NewSet(newFakeLedger("app-1"))
	require.NoError(t, set.Refresh(context.Background()))

	assert.True(t, set.Claim("app-1", true))
	assert.False(t, set.Claim("app-1", true), "force still claims each application once per run")
}

func TestClaim_Concurrent(t *testing.T) {
	set := NewSet(newFakeLedger())
	require.NoError(t, set.Refresh(context.Background()))

	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if set.Claim("app-1", false) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), wins, "exactly one claimant may win")
}

func TestComplete_WritesLedgerBeforeLocalMark(t *testing.T) {
	ledger := newFakeLedger()
	set := NewSet(ledger)
	require.NoError(t, set.Refresh(context.Background()))

	require.True(t, set.Claim("app-1", false))
	require.NoError(t, set.Complete(context.Background(), "app-1", 4, 16))

	assert.True(t, set.Contains("app-1"))
	assert.Equal(t, 1, ledger.marked)
	assert.False(t, set.Claim("app-1", false))
}

func TestComplete_LedgerFailureLeavesUnprocessed(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failOn = "app-1"
	set := NewSet(ledger)
	require.NoError(t, set.Refresh(context.Background()))

	require.True(t, set.Claim("app-1", false))
	require.Error(t, set.Complete(context.Background(), "app-1", 1, 1))
	assert.False(t, set.Contains("app-1"), "failed ledger write must not mark locally")
}

func TestRelease_AllowsReclaim(t *testing.T) {
	set := NewSet(newFakeLedger())
	require.NoError(t, set.Refresh(context.Background()))

	require.True(t, set.Claim("app-1", false))
	set.Release("app-1")
	assert.True(t, set.Claim("app-1", false), "released claim must be claimable again")
}

func TestForget(t *testing.T) {
	ledger := newFakeLedger("app-1")
	set := NewSet(ledger)
	require.NoError(t, set.Refresh(context.Background()))

	require.NoError(t, set.Forget(context.Background(), "app-1"))
	assert.False(t, set.Contains("app-1"))
	assert.Equal(t, 1, ledger.cleared)
}
