package headless

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/profile-validator/internal/credential"
	"github.com/JakeFAU/profile-validator/internal/validator"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{NavigationTimeout: -time.Second}, nil, nil)
	require.Error(t, err)

	f, err := NewChromedp(Config{Headless: true}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultViewports, f.cfg.Viewports)
	require.NoError(t, f.Close())
}

func TestFetchAfterCloseFails(t *testing.T) {
	t.Parallel()

	f, err := NewChromedp(Config{Headless: true}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err := f.Fetch(context.Background(), validator.Credential{ID: "a"}, "https://example.com")
	require.Error(t, err)
	require.Error(t, out.Err)
}

func TestFetcherTimeoutDefaults(t *testing.T) {
	t.Parallel()

	f := &Fetcher{}
	require.Equal(t, defaultNavigationTimeout, f.navTimeout())
	require.Equal(t, defaultSettleDelay, f.settleDelay())

	f.cfg.NavigationTimeout = time.Second
	f.cfg.SettleDelay = 10 * time.Millisecond
	require.Equal(t, time.Second, f.navTimeout())
	require.Equal(t, 10*time.Millisecond, f.settleDelay())
}

func TestCookieParams(t *testing.T) {
	t.Parallel()

	cookies := credential.ParseCookies("li_at=tok; JSESSIONID=abc", "", ".linkedin.com")
	cookies = append(cookies, &http.Cookie{Name: "host_only", Value: "v"})

	params := cookieParams(cookies, "https://www.linkedin.com/")
	require.Len(t, params, 3)
	require.Equal(t, "li_at", params[0].Name)
	require.Equal(t, ".linkedin.com", params[0].Domain)
	require.Empty(t, params[0].URL)
	require.True(t, params[0].Secure)
	require.True(t, params[0].HTTPOnly)

	require.Empty(t, params[2].Domain)
	require.Equal(t, "https://www.linkedin.com/", params[2].URL)
	require.Equal(t, "/", params[2].Path)
}

func TestMapNavigateError(t *testing.T) {
	t.Parallel()

	err := mapNavigateError(errors.New("page load error net::ERR_TOO_MANY_REDIRECTS"))
	require.ErrorIs(t, err, validator.ErrTooManyRedirects)

	err = mapNavigateError(context.DeadlineExceeded)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, validator.ErrTooManyRedirects)
}

func TestOriginOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://www.linkedin.com/", originOf("https://www.linkedin.com/in/jane?x=1"))
	require.Equal(t, "not a url", originOf("not a url"))
}

func TestResponseMetaKeepsMainDocument(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://cdn/x.js"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://example.com/in/ghost"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://example.com/iframe"},
	})

	status, loc := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 404, status)
	require.Equal(t, "https://example.com/in/ghost", loc)

	status, loc = meta.snapshotWithFallbacks("https://req", "https://example.com/authwall")
	require.Equal(t, 404, status)
	require.Equal(t, "https://example.com/authwall", loc)
}

func TestResponseMetaFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	status, loc := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://req", loc)
}

// stubStarter stands in for the browser launch. Launches for credentials in
// block wait until release is closed or ctx is done.
type stubStarter struct {
	block    map[string]bool
	release  chan struct{}
	started  chan string
	launches atomic.Int32
	canceled atomic.Int32
	failNext atomic.Bool
}

func newStubStarter(block ...string) *stubStarter {
	st := &stubStarter{
		block:   make(map[string]bool),
		release: make(chan struct{}),
		started: make(chan string, 16),
	}
	for _, id := range block {
		st.block[id] = true
	}
	return st
}

func (st *stubStarter) start(ctx context.Context, cred validator.Credential, _ string) (context.Context, context.CancelFunc, error) {
	st.launches.Add(1)
	st.started <- cred.ID
	if st.block[cred.ID] {
		select {
		case <-st.release:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if st.failNext.CompareAndSwap(true, false) {
		return nil, nil, errors.New("chrome not found")
	}
	bctx, cancel := context.WithCancel(context.Background())
	return bctx, func() {
		st.canceled.Add(1)
		cancel()
	}, nil
}

func newStubbedFetcher(t *testing.T, st *stubStarter) *Fetcher {
	t.Helper()
	f, err := NewChromedp(Config{Headless: true}, nil, nil)
	require.NoError(t, err)
	f.start = st.start
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("call did not return within %v", d)
	}
}

func TestSessionLaunchDoesNotBlockOtherCredentials(t *testing.T) {
	t.Parallel()

	st := newStubStarter("b")
	f := newStubbedFetcher(t, st)
	ctx := context.Background()

	a, err := f.session(ctx, validator.Credential{ID: "a"}, "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "a", <-st.started)

	bDone := make(chan error, 1)
	go func() {
		_, err := f.session(ctx, validator.Credential{ID: "b"}, "https://example.com")
		bDone <- err
	}()
	require.Equal(t, "b", <-st.started)

	var again *browserSession
	within(t, 2*time.Second, func() {
		again, err = f.session(ctx, validator.Credential{ID: "a"}, "https://example.com")
	})
	require.NoError(t, err)
	require.Same(t, a, again)

	close(st.release)
	require.NoError(t, <-bDone)
	require.EqualValues(t, 2, st.launches.Load())
}

func TestSessionConcurrentCallersShareOneLaunch(t *testing.T) {
	t.Parallel()

	st := newStubStarter("a")
	f := newStubbedFetcher(t, st)

	const callers = 5
	got := make([]*browserSession, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.session(context.Background(), validator.Credential{ID: "a"}, "https://example.com")
			assert.NoError(t, err)
			got[i] = s
		}()
	}
	<-st.started
	close(st.release)
	wg.Wait()

	require.EqualValues(t, 1, st.launches.Load())
	for _, s := range got {
		require.Same(t, got[0], s)
	}
}

func TestSessionFailedLaunchIsRetried(t *testing.T) {
	t.Parallel()

	st := newStubStarter()
	st.failNext.Store(true)
	f := newStubbedFetcher(t, st)

	_, err := f.session(context.Background(), validator.Credential{ID: "a"}, "https://example.com")
	require.ErrorContains(t, err, "chrome not found")

	s, err := f.session(context.Background(), validator.Credential{ID: "a"}, "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, s.ctx)
	require.EqualValues(t, 2, st.launches.Load())
}

func TestSessionLaunchHonorsCancellation(t *testing.T) {
	t.Parallel()

	st := newStubStarter("a")
	f := newStubbedFetcher(t, st)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := f.session(ctx, validator.Credential{ID: "a"}, "https://example.com")
		done <- err
	}()
	<-st.started
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("launch ignored cancellation")
	}

	f.mu.Lock()
	_, cached := f.sessions["a"]
	f.mu.Unlock()
	require.False(t, cached)
}

func TestSessionWaiterHonorsOwnCancellation(t *testing.T) {
	t.Parallel()

	st := newStubStarter("a")
	f := newStubbedFetcher(t, st)

	go func() {
		_, _ = f.session(context.Background(), validator.Credential{ID: "a"}, "https://example.com")
	}()
	<-st.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.session(ctx, validator.Credential{ID: "a"}, "https://example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(st.release)
}

func TestCloseDuringLaunchReturnsPromptly(t *testing.T) {
	t.Parallel()

	st := newStubStarter("a")
	f, err := NewChromedp(Config{Headless: true}, nil, nil)
	require.NoError(t, err)
	f.start = st.start

	done := make(chan error, 1)
	go func() {
		_, err := f.session(context.Background(), validator.Credential{ID: "a"}, "https://example.com")
		done <- err
	}()
	<-st.started

	var closeErr error
	within(t, 2*time.Second, func() { closeErr = f.Close() })
	require.NoError(t, closeErr)

	close(st.release)
	require.ErrorIs(t, <-done, errClosed)
	require.EqualValues(t, 1, st.canceled.Load(), "browser launched after Close must be torn down")
}
