package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vetsync/internal/engine"
	"github.com/angelmondragon/vetsync/internal/legacy"
	"github.com/angelmondragon/vetsync/pkg/config"
	"github.com/angelmondragon/vetsync/pkg/db/models"
	"github.com/angelmondragon/vetsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/vetsync/pkg/errors"
	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/outbox"
	"github.com/angelmondragon/vetsync/pkg/pagination"
	"github.com/angelmondragon/vetsync/pkg/redis"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubEngine struct {
	mu       sync.Mutex
	enqueued []outbox.EnqueueInput
	listed   []outbox.ListParams
	records  []models.OutboxRecord
	next     *pagination.KeysetCursor
	pushes   int
}

func (s *stubEngine) GetStatus(context.Context) engine.Status {
	return engine.Status{Pending: 2, Online: true, DeviceID: "device-1", Available: true}
}

func (s *stubEngine) PushAll(context.Context) engine.PushSummary {
	s.mu.Lock()
	s.pushes++
	s.mu.Unlock()
	return engine.PushSummary{Pushed: 1, Accepted: 1}
}

func (s *stubEngine) Pull(context.Context) engine.PullSummary {
	return engine.PullSummary{Reason: engine.ReasonOffline}
}

func (s *stubEngine) MigrateFromLegacy(context.Context) legacy.Summary {
	return legacy.Summary{Reason: legacy.ReasonAlreadyMigrated}
}

func (s *stubEngine) RequeueFailed(context.Context) (int64, error) {
	return 0, pkgerrors.New(pkgerrors.CodeStorageUnavailable, "local outbox is unavailable")
}

func (s *stubEngine) Enqueue(_ context.Context, in outbox.EnqueueInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, in)
	return "op-1", nil
}

func (s *stubEngine) ListOutbox(_ context.Context, params outbox.ListParams) ([]models.OutboxRecord, *pagination.KeysetCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listed = append(s.listed, params)
	return s.records, s.next, nil
}

type stubNetwork struct {
	mu     sync.Mutex
	online bool
}

func (n *stubNetwork) IsOnline() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *stubNetwork) SetOnline(_ context.Context, online bool) {
	n.mu.Lock()
	n.online = online
	n.mu.Unlock()
}

func testConfig() *config.Config {
	return &config.Config{
		App:              config.AppConfig{Env: config.AppEnvDev},
		TriggerRateLimit: config.TriggerRateLimitConfig{Window: time.Minute, Limit: 2},
	}
}

func newTestRouter(t *testing.T, eng *stubEngine, net *stubNetwork, redisClient *redis.Client) http.Handler {
	t.Helper()
	return NewRouter(testConfig(), logger.Nop(), stubPinger{}, redisClient, nil, prometheus.NewRegistry(), eng, net)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Data
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestRouter(t, &stubEngine{}, &stubNetwork{}, nil)

	live := do(t, h, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, live.Code)
	assert.NotEmpty(t, live.Header().Get("X-Request-Id"))

	ready := do(t, h, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, ready.Code)
	data := decodeData(t, ready)
	checks := data["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["db"])
	assert.Equal(t, "disabled", checks["redis"])
	assert.Equal(t, "disabled", checks["pubsub"])
}

func TestHealthReadyFailsWhenStoreDown(t *testing.T) {
	h := NewRouter(testConfig(), logger.Nop(), stubPinger{err: errors.New("disk gone")}, nil, nil, nil, &stubEngine{}, &stubNetwork{})

	rec := do(t, h, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSyncStatus(t *testing.T) {
	h := newTestRouter(t, &stubEngine{}, &stubNetwork{}, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, float64(2), data["pending"])
	assert.Equal(t, "device-1", data["device_id"])
}

func TestSyncPullReportsReason(t *testing.T) {
	h := newTestRouter(t, &stubEngine{}, &stubNetwork{}, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/sync/pull", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.ReasonOffline, decodeData(t, rec)["reason"])
}

func TestRequeueFailedMapsTypedError(t *testing.T) {
	h := newTestRouter(t, &stubEngine{}, &stubNetwork{}, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/sync/requeue-failed", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), string(pkgerrors.CodeStorageUnavailable))
}

func TestOutboxEnqueueNormalizesBaseVersion(t *testing.T) {
	eng := &stubEngine{}
	h := newTestRouter(t, eng, &stubNetwork{}, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/outbox/", `{"entity_type":"pet","entity_id":"p-1","operation_type":"update","payload":{"name":"Rex"},"base_version":7}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "op-1", decodeData(t, rec)["op_id"])

	require.Len(t, eng.enqueued, 1)
	assert.Equal(t, int64(7), eng.enqueued[0].BaseVersion)
	assert.Equal(t, enums.OperationType("update"), eng.enqueued[0].OperationType)
	assert.JSONEq(t, `{"name":"Rex"}`, string(eng.enqueued[0].Payload))

	rec = do(t, h, http.MethodPost, "/api/v1/outbox/", `{"entity_type":"pet","entity_id":"p-1","operation_type":"delete","base_version":"seven"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, eng.enqueued, 2)
	assert.Equal(t, int64(0), eng.enqueued[1].BaseVersion)
	assert.True(t, eng.enqueued[1].Payload.IsNull())
}

func TestOutboxEnqueueRejectsUnknownOperation(t *testing.T) {
	eng := &stubEngine{}
	h := newTestRouter(t, eng, &stubNetwork{}, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/outbox/", `{"entity_type":"pet","entity_id":"p-1","operation_type":"upsert"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "operation_type")
	assert.Empty(t, eng.enqueued)
}

func TestOutboxListPassesFiltersAndCursor(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	eng := &stubEngine{
		records: []models.OutboxRecord{{
			OpID:            "op-1",
			EntityType:      "pet",
			EntityID:        "p-1",
			OperationType:   enums.OperationCreate,
			ClientTimestamp: ts,
			Status:          enums.OutboxStatusFailed,
		}},
		next: &pagination.KeysetCursor{ClientTimestamp: ts, OpID: "op-1"},
	}
	h := newTestRouter(t, eng, &stubNetwork{}, nil)

	cursor := pagination.EncodeCursor(pagination.KeysetCursor{ClientTimestamp: ts.Add(-time.Hour), OpID: "op-0"})
	rec := do(t, h, http.MethodGet, "/api/v1/outbox/?limit=1&status=failed&cursor="+cursor, "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, eng.listed, 1)
	assert.Equal(t, 1, eng.listed[0].Limit)
	assert.Equal(t, enums.OutboxStatusFailed, eng.listed[0].Status)
	require.NotNil(t, eng.listed[0].After)
	assert.Equal(t, "op-0", eng.listed[0].After.OpID)

	data := decodeData(t, rec)
	assert.Len(t, data["items"], 1)
	assert.Equal(t, pagination.EncodeCursor(*eng.next), data["next_cursor"])
}

func TestOutboxListRejectsBadQuery(t *testing.T) {
	h := newTestRouter(t, &stubEngine{}, &stubNetwork{}, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/outbox/?status=done", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/outbox/?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/outbox/?cursor=@@@", "").Code)
}

func TestNetworkToggle(t *testing.T) {
	net := &stubNetwork{}
	h := newTestRouter(t, &stubEngine{}, net, nil)

	rec := do(t, h, http.MethodPut, "/api/v1/network/", `{"online":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, net.IsOnline())

	rec = do(t, h, http.MethodPut, "/api/v1/network/", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushTriggerIsRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.New(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr() + "/0", PoolSize: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	eng := &stubEngine{}
	h := newTestRouter(t, eng, &stubNetwork{}, client)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/sync/push", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/sync/push", "").Code)
	blocked := do(t, h, http.MethodPost, "/api/v1/sync/push", "")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, 2, eng.pushes)

	// status reads are never throttled
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/sync/status", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "vetsync_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := NewRouter(testConfig(), logger.Nop(), stubPinger{}, nil, nil, reg, &stubEngine{}, &stubNetwork{})
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vetsync_test_total 1")
}
