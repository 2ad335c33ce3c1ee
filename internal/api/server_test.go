package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hwstress/internal/events"
	"hwstress/internal/logger"
	"hwstress/internal/metrics"
	"hwstress/internal/scenario"
	"hwstress/internal/telemetry"
	"hwstress/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(Config{
		Logger:  logger.Discard(),
		Metrics: telemetry.NewMetrics(),
		Bus:     events.NewBusWithBuffer(1024),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.StopScenario()
		waitIdle(t, s)
		ts.Close()
	})
	return s, ts
}

func testScenario(d time.Duration) scenario.Config {
	cfg := scenario.DefaultConfig()
	cfg.Name = "api-test"
	cfg.Duration = d
	cfg.Intensity = 1
	cfg.SampleInterval = 20 * time.Millisecond
	cfg.Seed = 3
	cfg.Workers = []scenario.WorkerSpec{{Kind: worker.KindCPU, MonitorMetrics: true}}
	return cfg
}

func waitIdle(t *testing.T, s *Server) {
	t.Helper()
	require.Eventually(t, func() bool { return !s.IsRunning() }, 10*time.Second, 10*time.Millisecond)
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestStatusIdle(t *testing.T) {
	_, ts := newTestServer(t)

	var st scenario.Status
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/status", &st))
	assert.False(t, st.Running)
	assert.Empty(t, st.Workers)

	var workers []worker.Result
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/workers", &workers))
	assert.Empty(t, workers)

	var snaps []metrics.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/metrics", &snaps))
	assert.Empty(t, snaps)
}

func TestMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t)

	code, _ := post(t, ts.URL+"/api/status", "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	assert.Equal(t, http.StatusMethodNotAllowed, getJSON(t, ts.URL+"/api/scenario/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, getJSON(t, ts.URL+"/api/scenario/stop", nil))
}

func TestPresets(t *testing.T) {
	_, ts := newTestServer(t)

	var presets []PresetInfo
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/presets", &presets))
	require.Len(t, presets, len(scenario.ListPresets()))
	assert.Equal(t, "quick", presets[0].Name)
	assert.Equal(t, 5, presets[0].Workers)
	assert.False(t, presets[0].Faults)
}

func TestScenarioStartRequest(t *testing.T) {
	s, ts := newTestServer(t)

	code, _ := post(t, ts.URL+"/api/scenario/start", "not json")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = post(t, ts.URL+"/api/scenario/start", `{"preset":"cpu","duration":"later"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = post(t, ts.URL+"/api/scenario/start", `{"preset":"cpu","intensity":42}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := post(t, ts.URL+"/api/scenario/start", `{"preset":"cpu","duration":"30s","intensity":1}`)
	require.Equal(t, http.StatusAccepted, code, body)
	assert.Contains(t, body, `"scenario":"cpu"`)
	assert.True(t, s.IsRunning())

	code, _ = post(t, ts.URL+"/api/scenario/start", `{"preset":"cpu"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = post(t, ts.URL+"/api/scenario/stop", "")
	assert.Equal(t, http.StatusOK, code)
	waitIdle(t, s)

	code, _ = post(t, ts.URL+"/api/scenario/stop", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestFaultInjection(t *testing.T) {
	s, ts := newTestServer(t)

	code, _ := post(t, ts.URL+"/api/faults", `{"type":"custom_fault","target":"t1"}`)
	assert.Equal(t, http.StatusConflict, code, "no scenario running")

	require.NoError(t, s.StartScenario(testScenario(30*time.Second)))
	require.Eventually(t, func() bool { return len(s.status().Workers) == 1 }, 5*time.Second, 10*time.Millisecond)

	code, body := post(t, ts.URL+"/api/faults", `{"type":"timing_anomaly","target":"t1","severity":"high"}`)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Contains(t, body, `"success":true`)

	code, _ = post(t, ts.URL+"/api/faults", `{"type":"timing_anomaly","target":"t1","severity":"high"}`)
	assert.Equal(t, http.StatusConflict, code, "duplicate fault")

	code, body = post(t, ts.URL+"/api/faults", `{"type":"custom_fault","target":"t2","probability":0}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "skipped")

	code, _ = post(t, ts.URL+"/api/faults", `{"type":"meteor","target":"t3"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = post(t, ts.URL+"/api/faults", `{"type":"custom_fault"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	var faults FaultsResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/faults", &faults))
	require.Len(t, faults.Active, 1)
	assert.Equal(t, "t1", faults.Active[0].Target)
	assert.Len(t, faults.History, 1)
	assert.EqualValues(t, 1, faults.Stats.Injected)
	assert.EqualValues(t, 1, faults.Stats.Duplicate)
	assert.EqualValues(t, 1, faults.Stats.Skipped)

	var st scenario.Status
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/status", &st))
	assert.True(t, st.Running)
	assert.Equal(t, "api-test", st.ScenarioName)
	assert.NotEmpty(t, st.RunID)

	require.True(t, s.StopScenario())
	waitIdle(t, s)

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/faults", &faults))
	assert.Empty(t, faults.Active)
	assert.True(t, faults.History[0].IsRecovered())
}

func TestFaultInjectionDisabled(t *testing.T) {
	s, ts := newTestServer(t)

	cfg := testScenario(30 * time.Second)
	cfg.EnableFaults = false
	require.NoError(t, s.StartScenario(cfg))

	code, _ := post(t, ts.URL+"/api/faults", `{"type":"custom_fault","target":"t1"}`)
	assert.Equal(t, http.StatusConflict, code)
}

func TestMetricsExport(t *testing.T) {
	s, ts := newTestServer(t)

	require.NoError(t, s.StartScenario(testScenario(300*time.Millisecond)))
	waitIdle(t, s)

	var snaps []metrics.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/metrics?format=json", &snaps))
	assert.NotEmpty(t, snaps)

	resp, err := http.Get(ts.URL + "/api/metrics?format=csv")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,cpu_usage"))
	assert.Len(t, lines, len(snaps)+1)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/metrics?format=xml", nil))

	var workers []worker.Result
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/workers", &workers))
	require.Len(t, workers, 1)
	assert.Equal(t, worker.StatusCompleted, workers[0].Status)
}

func TestPrometheusEndpoint(t *testing.T) {
	s, ts := newTestServer(t)

	require.NoError(t, s.StartScenario(testScenario(200*time.Millisecond)))
	waitIdle(t, s)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(b), `hwstress_worker_runs_total{kind="cpu",status="COMPLETED"} 1`)
	assert.Contains(t, string(b), "hwstress_metrics_samples_total")
}

func TestWebSocketEvents(t *testing.T) {
	s, ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.forwardEvents(ctx)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, err := websocket.Dial(wsURL, "", ts.URL)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return s.clientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.StartScenario(testScenario(300*time.Millisecond)))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(10*time.Second)))
	seen := make(map[string]int)
	for seen["scenario_complete"] == 0 || seen[string(events.EventWorkerComplete)] == 0 {
		var msg string
		require.NoError(t, websocket.Message.Receive(ws, &msg))

		var envelope struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg), &envelope))
		seen[envelope.Type]++
	}

	assert.Equal(t, 1, seen[string(events.EventWorkerStart)])
	assert.Equal(t, 1, seen[string(events.EventWorkerComplete)])
	assert.NotZero(t, seen[string(events.EventMetricsSample)])
}
