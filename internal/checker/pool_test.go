package checker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"domainscraper/pkg/logger"
	"domainscraper/pkg/models"
)

// fakeVerifier treats proxies ending in :1 as good
type fakeVerifier struct {
	delay    time.Duration
	calls    int32
	inFlight int32
	maxSeen  int32
	mu       sync.Mutex
}

func (f *fakeVerifier) Verify(ctx context.Context, addr models.ProxyAddress) bool {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	if n > f.maxSeen {
		f.maxSeen = n
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return strings.HasSuffix(addr.String(), ":1")
}

func proxies(n int) []models.ProxyAddress {
	out := make([]models.ProxyAddress, n)
	for i := range out {
		port := "1"
		if i%2 == 1 {
			port = "2"
		}
		out[i] = models.ProxyAddress("10.0.0." + string(rune('a'+i)) + ":" + port)
	}
	return out
}

func TestCheckSplitsVerdicts(t *testing.T) {
	v := &fakeVerifier{}
	list := proxies(10)

	summary := Check(context.Background(), list, 4, v, logger.NewNopLogger())
	assert.Len(t, summary.Good, 5)
	assert.Len(t, summary.Bad, 5)
	assert.ElementsMatch(t, list, append(summary.Good, summary.Bad...))
	assert.Equal(t, int32(10), atomic.LoadInt32(&v.calls))
}

func TestCheckNotifiesObservers(t *testing.T) {
	var seen []models.ProxyAddress
	summary := Check(context.Background(), proxies(6), 2, &fakeVerifier{}, logger.NewNopLogger(), func(r CheckResult) {
		seen = append(seen, r.Job.Proxy)
	})

	assert.Len(t, seen, 6)
	assert.ElementsMatch(t, seen, append(summary.Good, summary.Bad...))
}

func TestCheckBoundsConcurrency(t *testing.T) {
	v := &fakeVerifier{delay: 10 * time.Millisecond}

	Check(context.Background(), proxies(12), 3, v, logger.NewNopLogger())
	assert.LessOrEqual(t, v.maxSeen, int32(3))
	assert.GreaterOrEqual(t, v.maxSeen, int32(1))
}

func TestCheckCancelled(t *testing.T) {
	v := &fakeVerifier{delay: 5 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := Check(ctx, proxies(20), 2, v, logger.NewNopLogger())
	assert.Less(t, len(summary.Good)+len(summary.Bad), 20)
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 0, &fakeVerifier{}, logger.NewNopLogger())
	wp.Start()
	wp.Stop()

	err := wp.Submit(CheckJob{Proxy: "a:1"})
	assert.Error(t, err)
}

func TestWriteList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "good.txt")
	require.NoError(t, WriteList(path, []models.ProxyAddress{"1.1.1.1:80", "2.2.2.2:8080"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1:80\n2.2.2.2:8080\n", string(data))
}
