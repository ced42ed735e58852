package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/breakwatch/internal/config"
	"github.com/goodtune/breakwatch/internal/policy"
	"github.com/goodtune/breakwatch/internal/scheduler"
	"github.com/goodtune/breakwatch/internal/storage"
	"github.com/goodtune/breakwatch/internal/storage/memory"
	"github.com/goodtune/breakwatch/internal/usage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var t0 = time.Date(2024, 5, 10, 14, 0, 0, 0, time.Local)

func newReportFixture(t *testing.T) (*usage.State, *policy.Engine, *usage.DailyReset, policy.Config) {
	t.Helper()
	state := usage.Load(context.Background(), storage.NewCounters(memory.New(), zerolog.Nop()), t0)
	cfg := policy.Config{MaxSessionTime: 12 * time.Minute, BreakTime: 15 * time.Minute, AlertFrequency: 1}

	engine, err := policy.NewEngine(state, nil, cfg, zerolog.Nop())
	require.NoError(t, err)
	reset, err := usage.NewDailyReset(state, 3, zerolog.Nop())
	require.NoError(t, err)
	return state, engine, reset, cfg
}

func TestBuildReportNormal(t *testing.T) {
	state, engine, reset, cfg := newReportFixture(t)
	state.SessionUsage = 300
	state.TotalUsage = 900

	report := buildReport(state, engine, reset, cfg, t0, false, sourceStorage)

	assert.Equal(t, sourceStorage, report.Source)
	assert.Equal(t, policy.PhaseNormal, report.Phase)
	assert.Equal(t, 300.0, report.Usage.SessionUsage)
	assert.Equal(t, "12m0s", report.MaxSessionTime)
	assert.Empty(t, report.BreakRemaining)
	assert.True(t, report.NextReset.Equal(time.Date(2024, 5, 11, 3, 0, 0, 0, time.Local)))
}

func TestBuildReportDuringBreak(t *testing.T) {
	state, engine, reset, cfg := newReportFixture(t)
	state.SessionUsage = 800
	state.StartBreak(context.Background(), t0)

	report := buildReport(state, engine, reset, cfg, t0.Add(5*time.Minute), true, sourceDaemon)

	assert.Equal(t, policy.PhaseBreakActive, report.Phase)
	assert.Equal(t, "10m0s", report.BreakRemaining)
	assert.True(t, report.OverlayActive)
}

func TestRenderStatusFormats(t *testing.T) {
	color.NoColor = true
	state, engine, reset, cfg := newReportFixture(t)
	state.SessionUsage = 420
	report := buildReport(state, engine, reset, cfg, t0, false, sourceStorage)

	var buf bytes.Buffer
	require.NoError(t, renderStatus(&buf, report, "json"))
	var decoded statusReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, policy.PhaseNormal, decoded.Phase)
	assert.Equal(t, 420.0, decoded.Usage.SessionUsage)

	buf.Reset()
	require.NoError(t, renderStatus(&buf, report, "yaml"))
	var generic map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &generic))
	assert.Equal(t, "NORMAL", generic["phase"])
	assert.Equal(t, "storage", generic["source"])

	buf.Reset()
	require.NoError(t, renderStatus(&buf, report, "text"))
	assert.Contains(t, buf.String(), "NORMAL")
	assert.Contains(t, buf.String(), "7m0s of 12m0s")
}

func TestStatusHandler(t *testing.T) {
	var latest atomic.Pointer[statusReport]
	handler := statusHandler(&latest)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	latest.Store(&statusReport{Source: sourceDaemon, Phase: policy.PhaseBreakActive})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"phase":"BREAK_ACTIVE"`)
}

func metricsConfigFor(t *testing.T, srv *httptest.Server) config.MetricsConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return config.MetricsConfig{Enabled: true, BindAddress: host, Port: port}
}

func TestFetchStatusFromDaemon(t *testing.T) {
	var latest atomic.Pointer[statusReport]
	latest.Store(&statusReport{Source: sourceDaemon, Phase: policy.PhaseBreakPendingStart})

	srv := httptest.NewServer(statusHandler(&latest))
	defer srv.Close()

	report, err := fetchStatus(metricsConfigFor(t, srv))
	require.NoError(t, err)
	assert.Equal(t, sourceDaemon, report.Source)
	assert.Equal(t, policy.PhaseBreakPendingStart, report.Phase)

	_, err = fetchStatus(config.MetricsConfig{Enabled: false})
	assert.Error(t, err)
}

func TestApplyReset(t *testing.T) {
	ctx := context.Background()
	state := usage.Load(ctx, storage.NewCounters(memory.New(), zerolog.Nop()), t0)
	state.TotalUsage = 1000
	state.SessionUsage = 800
	state.StartBreak(ctx, t0)
	state.MarkMilestone(ctx, 1)

	applyReset(ctx, state, scopeSession, t0)
	assert.Equal(t, 1000.0, state.TotalUsage)
	assert.Zero(t, state.SessionUsage)
	assert.Zero(t, state.BreakStart)
	assert.Zero(t, state.Milestones.Len())

	applyReset(ctx, state, scopeAll, t0.Add(time.Hour))
	assert.Zero(t, state.TotalUsage)
	assert.Equal(t, t0.Add(time.Hour).UnixMilli(), state.LastReset)
}

func TestReadStatusDoesNotWriteBack(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bw.bolt")

	backend, err := openStorage(config.StorageConfig{Type: storage.TypeBolt, Path: path})
	require.NoError(t, err)
	require.NoError(t, backend.Set(ctx, storage.KeySessionUsage, "120"))
	require.NoError(t, backend.Close())

	cfg := getDefaultConfig()
	cfg.Storage = config.StorageConfig{Type: storage.TypeBolt, Path: path}

	report, err := readStatus(cfg)
	require.NoError(t, err)
	assert.Equal(t, sourceStorage, report.Source)
	assert.Equal(t, 120.0, report.Usage.SessionUsage)

	backend, err = openStorage(cfg.Storage)
	require.NoError(t, err)
	defer backend.Close()
	_, err = backend.Get(ctx, storage.KeyLastChecked)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResetThroughDaemon(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	state := usage.Load(ctx, storage.NewCounters(backend, zerolog.Nop()), t0)
	tracker := usage.NewTracker(state, zerolog.Nop())

	tracker.AddElapsed(ctx, t0.Add(600*time.Second))
	require.Equal(t, 600.0, state.TotalUsage)

	sched, err := scheduler.New(time.Hour, &policy.TestClock{CurrentTime: t0.Add(600 * time.Second)}, zerolog.Nop())
	require.NoError(t, err)

	resets := newResetQueue(sched.Trigger)
	var shortsCleared atomic.Bool
	sched.AddStep("reset-requests", resets.step(state, func() { shortsCleared.Store(true) }, zerolog.Nop()))
	sched.AddStep("accumulate", func(ctx context.Context, now time.Time) error {
		tracker.AddElapsed(ctx, now)
		return nil
	})
	sched.Start()

	srv := httptest.NewServer(resets.handler())
	defer srv.Close()

	applied, err := requestReset(metricsConfigFor(t, srv), scopeAll)
	require.NoError(t, err)
	assert.True(t, applied)
	sched.Stop()

	assert.True(t, shortsCleared.Load())

	// The next tick only sees the time since the reset.
	tracker.AddElapsed(ctx, t0.Add(609*time.Second))
	assert.Equal(t, 9.0, state.TotalUsage)
	assert.Equal(t, 9.0, state.SessionUsage)

	raw, ok := backend.Raw(storage.KeyTotalUsage)
	require.True(t, ok)
	assert.Equal(t, "9", raw)
}

func TestResetHandlerRejectsBadRequests(t *testing.T) {
	resets := newResetQueue(nil)
	handler := resets.handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reset", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reset?scope=week", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, resets.requests)
}

func TestResetHandlerQueuesWhenSchedulerIsBusy(t *testing.T) {
	resets := newResetQueue(nil)
	resets.wait = 10 * time.Millisecond

	rec := httptest.NewRecorder()
	resets.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reset", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"applied":false`)

	// The queued request is applied on the next step.
	ctx := context.Background()
	state := usage.Load(ctx, storage.NewCounters(memory.New(), zerolog.Nop()), t0)
	state.SessionUsage = 500
	require.NoError(t, resets.step(state, nil, zerolog.Nop())(ctx, t0))
	assert.Zero(t, state.SessionUsage)
}

func TestRequestResetUnreachable(t *testing.T) {
	_, err := requestReset(config.MetricsConfig{Enabled: false}, scopeAll)
	assert.ErrorIs(t, err, errDaemonUnreachable)

	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := metricsConfigFor(t, srv)
	_, err = requestReset(cfg, scopeAll)
	assert.ErrorIs(t, err, errDaemonUnreachable)

	srv.Close()
	_, err = requestReset(cfg, scopeAll)
	assert.ErrorIs(t, err, errDaemonUnreachable)
}

func TestResetStorageFallback(t *testing.T) {
	err := resetStorage(config.StorageConfig{Type: storage.TypeMemory}, scopeAll, t0, zerolog.Nop())
	assert.Error(t, err)

	ctx := context.Background()
	cfg := config.StorageConfig{Type: storage.TypeBolt, Path: filepath.Join(t.TempDir(), "bw.bolt")}
	backend, err := openStorage(cfg)
	require.NoError(t, err)
	require.NoError(t, backend.Set(ctx, storage.KeyTotalUsage, "610"))
	require.NoError(t, backend.Close())

	require.NoError(t, resetStorage(cfg, scopeAll, t0, zerolog.Nop()))

	backend, err = openStorage(cfg)
	require.NoError(t, err)
	defer backend.Close()
	raw, err := backend.Get(ctx, storage.KeyTotalUsage)
	require.NoError(t, err)
	assert.Equal(t, "0", raw)
}

func TestOpenStorage(t *testing.T) {
	backend, err := openStorage(config.StorageConfig{Type: storage.TypeMemory})
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	backend, err = openStorage(config.StorageConfig{Type: storage.TypeBolt, Path: filepath.Join(t.TempDir(), "bw.bolt")})
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	_, err = openStorage(config.StorageConfig{Type: "sqlite"})
	assert.Error(t, err)
}

func TestUnknownKeys(t *testing.T) {
	unknown := unknownKeysIn([]string{
		"tracking.max_session_time",
		"storage.redis.password",
		"tracking.max_sesion_time",
		"browser.start_url",
		"alert.frequency",
	})
	assert.Equal(t, []string{"alert.frequency", "tracking.max_sesion_time"}, unknown)
}

func TestFindUnknownKeysFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracking:\n  break_time: 20m\n  brake_time: 5m\n"), 0644))

	unknown, err := findUnknownKeys(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"tracking.brake_time"}, unknown)
}

func TestDumpConfigHighlightsChanges(t *testing.T) {
	color.NoColor = true
	cfg := getDefaultConfig()
	cfg.Tracking.BreakTime = "20m"
	cfg.Storage.Redis.Password = "secret"

	var buf bytes.Buffer
	dumpConfig(&buf, cfg, getDefaultConfig(), []string{"tracking.brake_time"})

	out := buf.String()
	assert.Contains(t, out, "break_time = 20m  (modified from default: 15m)")
	assert.Contains(t, out, "max_session_time = 12m\n")
	assert.Contains(t, out, "***REDACTED***")
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "tracking.brake_time = (unknown key - check for typos)")
}

func TestPolicyConfigFrom(t *testing.T) {
	cfg := policyConfigFrom(
		config.TrackingConfig{MaxSessionTime: "30m", BreakTime: "bogus", AlertFrequency: 2},
		config.PolicyConfig{Dir: "/etc/breakwatch/policies"},
	)
	assert.Equal(t, 30*time.Minute, cfg.MaxSessionTime)
	assert.Equal(t, 15*time.Minute, cfg.BreakTime)
	assert.Equal(t, 2, cfg.AlertFrequency)
	assert.Equal(t, "/etc/breakwatch/policies", cfg.PolicyDir)
}
