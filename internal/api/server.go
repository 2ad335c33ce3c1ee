package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"hwstress/internal/config"
	"hwstress/internal/events"
	"hwstress/internal/fault"
	"hwstress/internal/logger"
	"hwstress/internal/metrics"
	"hwstress/internal/scenario"
	"hwstress/internal/telemetry"
	"hwstress/internal/worker"

	"github.com/pkg/errors"
	"golang.org/x/net/websocket"
)

const component = "api"

// Config はAPIサーバーの設定
type Config struct {
	Addr    string
	Logger  *logger.Logger
	Metrics *telemetry.Metrics
	Bus     *events.Bus
}

// Server はAPIサーバー
type Server struct {
	addr  string
	log   *logger.Logger
	telem *telemetry.Metrics
	bus   *events.Bus

	mu        sync.RWMutex
	engine    *scenario.Engine
	cancel    context.CancelFunc
	running   bool
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(cfg Config) *Server {
	bus := cfg.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	return &Server{
		addr:      cfg.Addr,
		log:       cfg.Logger,
		telem:     cfg.Metrics,
		bus:       bus,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/workers", s.handleWorkers)
	mux.HandleFunc("/api/faults", s.handleFaults)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/scenario/start", s.handleScenarioStart)
	mux.HandleFunc("/api/scenario/stop", s.handleScenarioStop)
	mux.HandleFunc("/api/presets", s.handlePresets)

	// Prometheus
	mux.Handle("/metrics", s.telem.Handler())

	// WebSocket
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// Start はサーバーを開始する
// ctx がキャンセルされるとシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// バックグラウンドでイベント配信
	go s.forwardEvents(ctx)

	s.log.Info(component, "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		s.StopScenario()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// StartScenario はシナリオをバックグラウンドで開始する
func (s *Server) StartScenario(cfg scenario.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errScenarioRunning
	}

	engine := scenario.New(cfg)
	engine.SetEventBus(s.bus)
	engine.SetLogger(s.log)
	engine.SetMetrics(s.telem)

	ctx, cancel := context.WithCancel(context.Background())
	s.engine = engine
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	// バックグラウンドで実行
	go func() {
		defer cancel()
		result, err := engine.Run(ctx)

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		if err != nil {
			s.log.Error(component, "Scenario failed: %v", err)
			s.broadcast(map[string]any{
				"type":  "scenario_failed",
				"error": err.Error(),
			})
			return
		}
		s.log.Info(component, "Scenario completed: passed=%v", result.Passed())

		s.broadcast(map[string]any{
			"type":   "scenario_complete",
			"result": result,
		})
	}()

	return nil
}

// StopScenario は実行中のシナリオを中断する
func (s *Server) StopScenario() bool {
	s.mu.RLock()
	running, cancel := s.running, s.cancel
	s.mu.RUnlock()

	if !running || cancel == nil {
		return false
	}
	cancel()
	return true
}

// IsRunning はシナリオ実行中かどうかを返す
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

var errScenarioRunning = errors.New("scenario already running")

func (s *Server) currentEngine() *scenario.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

func (s *Server) status() scenario.Status {
	if e := s.currentEngine(); e != nil {
		return e.Status()
	}
	return scenario.Status{
		Workers:      []worker.Result{},
		ActiveFaults: []fault.Record{},
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status().Workers)
}

// FaultsResponse は障害一覧レスポンス
type FaultsResponse struct {
	Active  []fault.Record `json:"active"`
	History []fault.Record `json:"history"`
	Stats   fault.Stats    `json:"stats"`
}

func (s *Server) handleFaults(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		st := s.status()
		resp := FaultsResponse{
			Active:  st.ActiveFaults,
			History: []fault.Record{},
			Stats:   st.FaultStats,
		}
		if e := s.currentEngine(); e != nil {
			resp.History = e.FaultHistory()
		}
		s.writeJSON(w, http.StatusOK, resp)

	case http.MethodPost:
		var req config.FaultConfig
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		fc, err := req.ToFault()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		e := s.currentEngine()
		if e == nil || !s.IsRunning() {
			http.Error(w, "No scenario running", http.StatusConflict)
			return
		}
		if !e.Config().EnableFaults {
			http.Error(w, "Fault injection disabled for this scenario", http.StatusConflict)
			return
		}

		rec, err := e.InjectFault(r.Context(), fc)
		switch {
		case err == nil:
			s.writeJSON(w, http.StatusCreated, rec)
		case errors.Is(err, fault.ErrSkipped):
			s.writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
		case errors.Is(err, fault.ErrDuplicateFault):
			s.writeJSON(w, http.StatusConflict, rec)
		default:
			s.writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":  err.Error(),
				"record": rec,
			})
		}

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snaps := []metrics.Snapshot{}
	if e := s.currentEngine(); e != nil {
		snaps = e.MetricsHistory()
	}

	switch r.URL.Query().Get("format") {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		if err := metrics.WriteCSV(w, snaps); err != nil {
			s.log.Error(component, "Failed to write CSV: %v", err)
		}
	case "", "json":
		s.writeJSON(w, http.StatusOK, snaps)
	default:
		http.Error(w, "Unsupported format", http.StatusBadRequest)
	}
}

// ScenarioRequest はシナリオ開始リクエスト
type ScenarioRequest struct {
	Preset    string `json:"preset"`
	Duration  string `json:"duration,omitempty"`
	Intensity int    `json:"intensity,omitempty"`
}

func (s *Server) handleScenarioStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// プリセット取得
	cfg, ok := scenario.GetPreset(req.Preset)
	if !ok {
		cfg = scenario.QuickScenario()
	}

	// オーバーライド
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			http.Error(w, "Invalid duration", http.StatusBadRequest)
			return
		}
		cfg.Duration = d
	}
	if req.Intensity != 0 {
		cfg.Intensity = req.Intensity
	}

	if err := s.StartScenario(cfg); err != nil {
		if errors.Is(err, errScenarioRunning) {
			http.Error(w, "Scenario already running", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "scenario": cfg.Name})
}

func (s *Server) handleScenarioStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.StopScenario() {
		http.Error(w, "No scenario running", http.StatusBadRequest)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stop requested"})
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Duration    string `json:"duration"`
	Workers     int    `json:"workers"`
	Faults      bool   `json:"faults"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := scenario.ListPresets()
	presets := make([]PresetInfo, 0, len(names))
	for _, name := range names {
		cfg, _ := scenario.GetPreset(name)
		presets = append(presets, PresetInfo{
			Name:        cfg.Name,
			Description: cfg.Description,
			Duration:    cfg.Duration.String(),
			Workers:     len(cfg.Workers),
			Faults:      cfg.EnableFaults,
		})
	}

	s.writeJSON(w, http.StatusOK, presets)
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// forwardEvents はイベントバスの内容を WebSocket クライアントへ流す
func (s *Server) forwardEvents(ctx context.Context) {
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			s.broadcast(ev)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error(component, "Failed to encode JSON: %v", err)
	}
}
