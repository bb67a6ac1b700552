package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/httpclient"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
)

func newClient(t *testing.T, r http.Handler) *httpclient.Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	resolver := httpclient.StaticResolver{}
	for _, s := range []string{ServiceBilling, ServiceContent, ServiceTargeting, ServiceCache, ServiceBuild} {
		resolver[s] = srv.URL
	}
	return httpclient.NewClient(noop.NewTracerProvider().Tracer("test"), resolver)
}

func TestBillingFetchNotFound(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/v1/staged/coupons/{id}", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such coupon", http.StatusNotFound)
	})
	a := NewBillingAdapter(newClient(t, r))

	_, err := a.FetchCoupon(context.Background(), collaborator.EnvStaged, "c1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, collaborator.ErrNotFound))
	assert.Equal(t, remote.OriginBilling, remote.OriginOf(err))
}

func TestBillingCreateCoupon(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/v1/published/coupons", func(w http.ResponseWriter, req *http.Request) {
		var spec collaborator.CouponSpec
		_ = json.NewDecoder(req.Body).Decode(&spec)
		_ = json.NewEncoder(w).Encode(collaborator.Coupon{ID: "cpn-1", CouponSpec: spec, State: collaborator.CouponActive})
	})
	a := NewBillingAdapter(newClient(t, r))

	c, err := a.CreateCoupon(context.Background(), collaborator.EnvPublished, collaborator.CouponSpec{Code: "US_SPRING"})
	require.NoError(t, err)
	assert.Equal(t, "cpn-1", c.ID)
	assert.Equal(t, "US_SPRING", c.Code)
}

func TestTargetingConflictIsBusy(t *testing.T) {
	r := chi.NewRouter()
	r.Put("/v1/staged/configs/offers", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "stale version", http.StatusConflict)
	})
	a := NewTargetingAdapter(newClient(t, r))

	_, err := a.WriteConfig(context.Background(), collaborator.EnvStaged, collaborator.ConfigDocument{Set: collaborator.ConfigSetOffers, Version: 4})
	assert.True(t, remote.IsBusy(err))
}

func TestTargetingReadsSpecificVersion(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/v1/staged/configs/offers/versions/{v}", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(collaborator.ConfigDocument{Set: collaborator.ConfigSetOffers, Version: 3})
	})
	a := NewTargetingAdapter(newClient(t, r))

	doc, err := a.ReadConfig(context.Background(), collaborator.EnvStaged, collaborator.ConfigSetOffers, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc.Version)
}

func TestBuildStatusMapping(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	r := chi.NewRouter()
	r.Post("/v1/builds", func(w http.ResponseWriter, _ *http.Request) {
		code := int(status.Load())
		if code == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]string{"buildKey": "b-42"})
			return
		}
		w.WriteHeader(code)
	})
	a := NewBuildAdapter(newClient(t, r))
	req := collaborator.BuildRequest{Env: collaborator.EnvStaged, StoreCode: "US", OfferCode: "X"}

	_, err := a.TriggerBuild(context.Background(), req)
	assert.True(t, remote.IsBusy(err))

	status.Store(http.StatusServiceUnavailable)
	_, err = a.TriggerBuild(context.Background(), req)
	assert.True(t, remote.IsOffline(err))

	status.Store(http.StatusBadRequest)
	_, err = a.TriggerBuild(context.Background(), req)
	assert.Equal(t, remote.OriginBuild, remote.OriginOf(err))
	assert.False(t, remote.IsRetryable(err))

	status.Store(http.StatusOK)
	key, err := a.TriggerBuild(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "b-42", key)
}

func TestCacheFailureCarriesScopeOrigin(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/v1/staged/caches/{scope}/clear", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	a := NewCacheAdapter(newClient(t, r))

	err := a.ClearCache(context.Background(), collaborator.EnvStaged, collaborator.CacheAuth)
	assert.Equal(t, remote.OriginAuthCache, remote.OriginOf(err))
	err = a.ClearCache(context.Background(), collaborator.EnvStaged, collaborator.CacheContent)
	assert.Equal(t, remote.OriginCache, remote.OriginOf(err))
}
