package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ignite/engagement-tracker/internal/api"
	"github.com/ignite/engagement-tracker/internal/cache"
	"github.com/ignite/engagement-tracker/internal/config"
	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/repository/memory"
	"github.com/ignite/engagement-tracker/internal/service/engagement"
	"github.com/ignite/engagement-tracker/internal/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = "memory"
	cfg.Tokens.Backend = "memory"
	cfg.Analytics.ArchiveLocalPath = t.TempDir()
	return cfg
}

func seedToken(t *testing.T, a *App) {
	t.Helper()
	store, ok := a.Events.(*memory.Store)
	require.True(t, ok)
	store.PutToken(domain.TokenTarget{Token: "tok-1", CampaignID: "camp-1", RecipientID: "r-1"})
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Tracking.Dispatch = "carrier-pigeon"
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "invalid config")
}

func TestNew_MemoryEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, memoryConfig(t))
	require.NoError(t, err)
	defer a.Close()
	seedToken(t, a)

	d, err := a.Dispatcher(ctx)
	require.NoError(t, err)
	opts := a.APIRoutes(ctx)
	opts.Tracking = tracking.NewHandler(d)
	router := api.SetupRoutes(opts)

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/track/open?id=tok-1", nil))
		require.Equal(t, http.StatusOK, rr.Code)
	}
	require.NoError(t, d.Wait(ctx))

	// The refresher picks the campaign up from the dirty set.
	assert.Equal(t, 1, a.Refresher().RunOnce(ctx))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/analytics/camp-1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"opened_count":3`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/analytics/refresh", strings.NewReader(`{"campaign_id":"camp-1"}`)))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestNew_RedisBackedPieces(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig(t)
	cfg.Redis.URL = "redis://" + mr.Addr()

	ctx := context.Background()
	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()
	seedToken(t, a)

	_, isCached := a.Tokens.(*cache.CachedResolver)
	assert.True(t, isCached)
	_, isRedisDirty := a.dirty.(*cache.DirtySet)
	assert.True(t, isRedisDirty)

	require.NoError(t, a.Recorder.Apply(ctx, domain.Capture{Token: "tok-1", EventType: domain.EventClicked, ReceivedAt: time.Now()}))
	members, err := mr.Members(cfg.Analytics.DirtyKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"camp-1"}, members)
}

func TestNew_CachedTokenOfDeletedCampaign(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig(t)
	cfg.Redis.URL = "redis://" + mr.Addr()

	ctx := context.Background()
	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()
	seedToken(t, a)

	_, err = a.Tokens.Resolve(ctx, "tok-1")
	require.NoError(t, err)

	a.Events.(*memory.Store).DeleteCampaign("camp-1")
	_, err = a.Tokens.Resolve(ctx, "tok-1")
	assert.ErrorIs(t, err, engagement.ErrTokenNotFound)

	err = a.Recorder.Apply(ctx, domain.Capture{Token: "tok-1", EventType: domain.EventOpened, ReceivedAt: time.Now()})
	assert.ErrorIs(t, err, engagement.ErrTokenNotFound)
	assert.Empty(t, a.Events.(*memory.Store).Events("camp-1"))
}

func TestTrackingHandler_TrustedProxies(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Tracking.TrustedProxies = []string{"10.0.0.0/8"}
	ctx := context.Background()
	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()
	seedToken(t, a)

	d, err := a.Dispatcher(ctx)
	require.NoError(t, err)
	h, err := a.TrackingHandler(d)
	require.NoError(t, err)

	for _, remote := range []string{"10.2.3.4:443", "203.0.113.9:443"} {
		req := httptest.NewRequest(http.MethodGet, "/track/open?id=tok-1", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", "198.51.100.1")
		h.Routes().ServeHTTP(httptest.NewRecorder(), req)
	}
	require.NoError(t, d.Wait(ctx))

	events := a.Events.(*memory.Store).Events("camp-1")
	require.Len(t, events, 2)
	ips := []string{events[0].Metadata[domain.MetaIP], events[1].Metadata[domain.MetaIP]}
	assert.ElementsMatch(t, []string{"198.51.100.1", "203.0.113.9"}, ips)
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Redis.URL = "redis://127.0.0.1:1"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := New(ctx, cfg)
	assert.ErrorContains(t, err, "redis ping")
}

func TestConsumerRequiresQueue(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t))
	require.NoError(t, err)
	_, err = a.Consumer(context.Background())
	assert.Error(t, err)
}
