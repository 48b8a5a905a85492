package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/rigflow/rigflow/internal/jobs"
	"github.com/rigflow/rigflow/internal/rbac"
)

type stubPublisher struct {
	published []rbac.Policy
	err       error
}

func (p *stubPublisher) Publish(_ context.Context, policy rbac.Policy) (int64, error) {
	if p.err != nil {
		return 0, p.err
	}
	p.published = append(p.published, policy)
	return 1, nil
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestPolicySyncPublishesValidPolicy(t *testing.T) {
	registry := prometheus.NewRegistry()
	publisher := &stubPublisher{}
	job := NewPolicySyncJob(rbac.StaticSource{Policy: rbac.DefaultPolicy()}, publisher, nil, jobmetrics.NewMetrics(registry))

	task, err := NewPolicySyncTask(PolicySyncPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, publisher.published, 1)
	assert.NoError(t, publisher.published[0].Validate())
	assert.Equal(t, float64(1), counterValue(t, registry, "rigflow_jobs_total"))
	assert.Zero(t, counterValue(t, registry, "rigflow_jobs_failures_total"))
}

func TestPolicySyncDryRunSkipsPublish(t *testing.T) {
	publisher := &stubPublisher{}
	job := NewPolicySyncJob(rbac.StaticSource{Policy: rbac.DefaultPolicy()}, publisher, nil, nil)

	require.NoError(t, job.Run(context.Background(), PolicySyncPayload{DryRun: true}))
	assert.Empty(t, publisher.published)
}

func TestPolicySyncRejectsInvalidPolicy(t *testing.T) {
	registry := prometheus.NewRegistry()
	broken := rbac.DefaultPolicy()
	broken.Hierarchy[rbac.RoleTechnician] = []rbac.Role{rbac.RoleExecutive}
	broken.Grants[rbac.PermJobCreate] = []rbac.Role{"foreman"}
	publisher := &stubPublisher{}
	job := NewPolicySyncJob(rbac.StaticSource{Policy: broken}, publisher, nil, jobmetrics.NewMetrics(registry))

	task, err := NewPolicySyncTask(PolicySyncPayload{})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, rbac.ErrCyclicHierarchy)
	assert.ErrorIs(t, err, rbac.ErrUnknownRole)
	assert.Empty(t, publisher.published)
	assert.Equal(t, float64(2), counterValue(t, registry, "rigflow_policy_defects_total"))
	assert.Equal(t, float64(1), counterValue(t, registry, "rigflow_jobs_failures_total"))
}

func TestPolicySyncPropagatesPublishErrors(t *testing.T) {
	boom := errors.New("redis down")
	job := NewPolicySyncJob(rbac.StaticSource{Policy: rbac.DefaultPolicy()}, &stubPublisher{err: boom}, nil, nil)

	err := job.Run(context.Background(), PolicySyncPayload{})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestPolicySyncBadPayload(t *testing.T) {
	job := NewPolicySyncJob(rbac.StaticSource{Policy: rbac.DefaultPolicy()}, &stubPublisher{}, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskPolicySync, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPolicySyncFeedsRedisSource(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	job := NewPolicySyncJob(rbac.StaticSource{Policy: rbac.DefaultPolicy()}, rbac.NewPublisher(client), nil, nil)
	require.NoError(t, job.Run(context.Background(), PolicySyncPayload{}))

	store := rbac.NewStore(rbac.Policy{}, rbac.StoreConfig{Source: rbac.NewRedisSource(client)})
	require.False(t, store.IsAuthorized(rbac.RoleAdmin, rbac.PermUserManage))
	_, err := store.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, store.IsAuthorized(rbac.RoleExecutive, rbac.PermUserManage))
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestJobsHealth(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}

	r := chi.NewRouter()
	NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3}}, nil, nil).MountRoutes(r, deny)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, res.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, float64(3), body["pending"])

	res = httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/policy-sync", nil))
	assert.Equal(t, http.StatusForbidden, res.Code)

	failing := chi.NewRouter()
	NewHandler(stubInspector{err: errors.New("no redis")}, nil, nil).MountRoutes(failing, deny)
	res = httptest.NewRecorder()
	failing.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
}

func TestPolicySyncEndpointWithoutClient(t *testing.T) {
	allow := func(next http.Handler) http.Handler { return next }
	r := chi.NewRouter()
	NewHandler(nil, nil, nil).MountRoutes(r, allow)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/policy-sync", nil))
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
}
