/*
Copyright 2026 The Mahavishnu Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/lesleslie/mahavishnu-sub005/internal/errors"
	graph "github.com/lesleslie/mahavishnu-sub005/pkg/dependency"
	"github.com/lesleslie/mahavishnu-sub005/pkg/dependency/visualize"
	"github.com/lesleslie/mahavishnu-sub005/pkg/eventbus"
	"github.com/lesleslie/mahavishnu-sub005/pkg/pool"
)

// DefaultPingInterval and DefaultRequestTimeout match spec.md §5's
// defaults; a session is terminated when no pong arrives within two ping
// intervals.
const (
	DefaultPingInterval  = 20 * time.Second
	DefaultRequestTimeout = 5 * time.Second
)

// Config configures a Server.
type Config struct {
	Manager        *graph.Manager
	Registry       *pool.Registry
	Bus            *eventbus.Bus
	Logger         *logrus.Logger
	// AccessLogger, when set, receives one structured record per HTTP
	// request (the teacher's zap/zapr service-layer logging convention,
	// kept separate from the logrus business-logic logger above).
	AccessLogger   logr.Logger
	PingInterval   time.Duration
	RequestTimeout time.Duration
}

// Server is the subscription gateway's HTTP/websocket surface.
type Server struct {
	manager      *graph.Manager
	registry     *pool.Registry
	bus          *eventbus.Bus
	logger       *logrus.Logger
	accessLogger logr.Logger
	validate     *validator.Validate
	upgrader     websocket.Upgrader

	pingInterval   time.Duration
	requestTimeout time.Duration

	metricsRegistry *prometheus.Registry
	metrics         struct {
		sessionsTotal   prometheus.Counter
		sessionsActive  prometheus.Gauge
		requestsTotal   *prometheus.CounterVec
		eventsDelivered prometheus.Counter
	}

	sessionsMu sync.Mutex
	sessions   map[string]*session
}

// NewServer constructs a Server. It is safe for concurrent use once built.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	s := &Server{
		manager:        cfg.Manager,
		registry:       cfg.Registry,
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		accessLogger:   cfg.AccessLogger,
		validate:       validator.New(),
		upgrader:       websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		pingInterval:   cfg.PingInterval,
		requestTimeout: cfg.RequestTimeout,
		sessions:       make(map[string]*session),
	}

	s.metrics.sessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mahavishnu_gateway_sessions_total", Help: "Total websocket sessions accepted.",
	})
	s.metrics.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mahavishnu_gateway_sessions_active", Help: "Currently connected websocket sessions.",
	})
	s.metrics.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mahavishnu_gateway_requests_total", Help: "Gateway requests by event and outcome.",
	}, []string{"event", "outcome"})
	s.metrics.eventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mahavishnu_gateway_events_delivered_total", Help: "Lifecycle events pushed to subscribers.",
	})

	s.metricsRegistry = prometheus.NewRegistry()
	s.metricsRegistry.MustRegister(s.metrics.sessionsTotal, s.metrics.sessionsActive, s.metrics.requestsTotal, s.metrics.eventsDelivered)

	return s
}

// Router builds the gateway's HTTP mux: websocket upgrade, health, metrics,
// dependency-graph visualization, and the batch convenience endpoint.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"*"},
	}))

	r.Use(s.accessLogMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.metricsRegistry, promhttp.HandlerOpts{}))
	r.Get("/ws", s.handleWebSocket)
	r.Get("/pools/{id}/graph.mmd", s.handleGraphMermaid)
	r.Post("/batch", s.handleBatch)

	return r
}

// accessLogMiddleware emits one structured record per request through the
// configured access logger, if any; it is a no-op otherwise.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	if s.accessLogger.GetSink() == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.accessLogger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleGraphMermaid(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		http.Error(w, "dependency manager not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.mermaid")
	_, _ = w.Write([]byte(visualize.Mermaid(s.manager.Graph())))
}

// handleBatch is a supplemental HTTP convenience for request frames that
// does not replace the websocket push channel. An empty batch returns a
// single error, not an empty array, per the gateway's protocol design note.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var requests []RequestFrame
	if err := json.NewDecoder(r.Body).Decode(&requests); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorFrame{Type: FrameError, ErrorCode: string(apperrors.ErrorTypeProtocol), ErrorMessage: "malformed batch payload"})
		return
	}
	if len(requests) == 0 {
		s.writeJSON(w, http.StatusBadRequest, ErrorFrame{Type: FrameError, ErrorCode: string(apperrors.ErrorTypeValidation), ErrorMessage: "batch request must not be empty"})
		return
	}

	responses := make([]any, len(requests))
	for i, req := range requests {
		responses[i] = s.dispatch(r.Context(), nil, req)
	}
	s.writeJSON(w, http.StatusOK, responses)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type session struct {
	id       string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	subs     map[string]*eventbus.Subscription
	subsMu   sync.Mutex
	missedPongs int
	pongMu   sync.Mutex
}

func (sess *session) writeFrame(v any) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sess.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sess := &session{
		id:   uuid.NewString(),
		conn: conn,
		subs: make(map[string]*eventbus.Subscription),
	}

	s.sessionsMu.Lock()
	s.sessions[sess.id] = sess
	s.sessionsMu.Unlock()
	s.metrics.sessionsTotal.Inc()
	s.metrics.sessionsActive.Inc()

	defer func() {
		s.sessionsMu.Lock()
		delete(s.sessions, sess.id)
		s.sessionsMu.Unlock()
		s.metrics.sessionsActive.Dec()
		s.cleanupSession(sess)
		_ = conn.Close()
	}()

	if err := sess.writeFrame(WelcomeFrame{Type: FrameWelcome, Version: ProtocolVersion, Capabilities: Capabilities}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readPump(gctx, sess) })
	g.Go(func() error { return s.pingPump(gctx, sess) })
	_ = g.Wait()
}

func (s *Server) cleanupSession(sess *session) {
	sess.subsMu.Lock()
	defer sess.subsMu.Unlock()
	for _, sub := range sess.subs {
		sub.Unsubscribe()
	}
	sess.subs = nil
}

func (s *Server) readPump(ctx context.Context, sess *session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return err
		}

		var env typeEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = sess.writeFrame(ErrorFrame{Type: FrameError, ErrorCode: string(apperrors.ErrorTypeProtocol), ErrorMessage: "malformed frame"})
			continue
		}

		switch env.Type {
		case FramePong:
			sess.pongMu.Lock()
			sess.missedPongs = 0
			sess.pongMu.Unlock()
		case FrameRequest:
			var req RequestFrame
			if err := json.Unmarshal(data, &req); err != nil {
				_ = sess.writeFrame(ErrorFrame{Type: FrameError, ErrorCode: string(apperrors.ErrorTypeProtocol), ErrorMessage: "malformed request"})
				continue
			}
			resp := s.dispatchWithTimeout(ctx, sess, req)
			_ = sess.writeFrame(resp)
		default:
			_ = sess.writeFrame(ErrorFrame{Type: FrameError, ErrorCode: string(apperrors.ErrorTypeProtocol), ErrorMessage: "unexpected frame type"})
		}
	}
}

func (s *Server) dispatchWithTimeout(ctx context.Context, sess *session, req RequestFrame) any {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()
	return s.dispatch(ctx, sess, req)
}

func (s *Server) dispatch(ctx context.Context, sess *session, req RequestFrame) any {
	if err := s.validate.Struct(req); err != nil {
		s.metrics.requestsTotal.WithLabelValues(string(req.Event), "invalid").Inc()
		return ErrorFrame{Type: FrameError, ID: req.ID, ErrorCode: string(apperrors.ErrorTypeValidation), ErrorMessage: err.Error()}
	}

	var resp any
	switch req.Event {
	case RequestSubscribe:
		resp = s.handleSubscribe(sess, req)
	case RequestUnsubscribe:
		resp = s.handleUnsubscribe(sess, req)
	case RequestGetPoolStatus:
		resp = s.handleGetPoolStatus(req)
	case RequestGetWorkerStatus:
		resp = s.handleGetWorkerStatus(req)
	default:
		resp = ErrorFrame{Type: FrameError, ID: req.ID, ErrorCode: string(apperrors.ErrorTypeProtocol), ErrorMessage: "unknown request event"}
	}

	outcome := "ok"
	if _, isErr := resp.(ErrorFrame); isErr {
		outcome = "error"
	}
	s.metrics.requestsTotal.WithLabelValues(string(req.Event), outcome).Inc()
	return resp
}

func (s *Server) handleSubscribe(sess *session, req RequestFrame) any {
	if sess == nil {
		return ErrorFrame{Type: FrameError, ID: req.ID, ErrorCode: string(apperrors.ErrorTypeProtocol), ErrorMessage: "subscribe requires an active session"}
	}
	channel, _ := req.Data["channel"].(string)
	if channel == "" {
		return ErrorFrame{Type: FrameError, ID: req.ID, ErrorCode: string(apperrors.ErrorTypeValidation), ErrorMessage: "data.channel is required"}
	}

	sess.subsMu.Lock()
	if _, already := sess.subs[channel]; already {
		sess.subsMu.Unlock()
		return ResponseFrame{Type: FrameResponse, ID: req.ID, Status: "subscribed", Channel: channel}
	}
	sub := s.bus.Subscribe(channel)
	sess.subs[channel] = sub
	sess.subsMu.Unlock()

	go s.pump(sess, channel, sub)

	return ResponseFrame{Type: FrameResponse, ID: req.ID, Status: "subscribed", Channel: channel}
}

func (s *Server) handleUnsubscribe(sess *session, req RequestFrame) any {
	if sess == nil {
		return ErrorFrame{Type: FrameError, ID: req.ID, ErrorCode: string(apperrors.ErrorTypeProtocol), ErrorMessage: "unsubscribe requires an active session"}
	}
	channel, _ := req.Data["channel"].(string)

	sess.subsMu.Lock()
	sub, ok := sess.subs[channel]
	if ok {
		delete(sess.subs, channel)
	}
	sess.subsMu.Unlock()

	if ok {
		sub.Unsubscribe()
	}
	return ResponseFrame{Type: FrameResponse, ID: req.ID, Status: "unsubscribed", Channel: channel}
}

func (s *Server) handleGetPoolStatus(req RequestFrame) any {
	poolID, _ := req.Data["pool_id"].(string)
	status, err := s.registry.PoolStatusOf(poolID)
	if err != nil {
		return ErrorFrame{Type: FrameError, ID: req.ID, ErrorCode: string(apperrors.GetType(err)), ErrorMessage: apperrors.SafeErrorMessage(err)}
	}
	return ResponseFrame{Type: FrameResponse, ID: req.ID, Data: status}
}

func (s *Server) handleGetWorkerStatus(req RequestFrame) any {
	poolID, _ := req.Data["pool_id"].(string)
	workerID, _ := req.Data["worker_id"].(string)
	status, err := s.registry.WorkerStatusOf(poolID, workerID)
	if err != nil {
		return ErrorFrame{Type: FrameError, ID: req.ID, ErrorCode: string(apperrors.GetType(err)), ErrorMessage: apperrors.SafeErrorMessage(err)}
	}
	return ResponseFrame{Type: FrameResponse, ID: req.ID, Data: status}
}

// pump forwards events delivered on sub to sess until the subscription is
// released.
func (s *Server) pump(sess *session, channel string, sub *eventbus.Subscription) {
	for evt := range sub.Events() {
		frame := EventFrame{
			Type:      FrameEvent,
			Event:     evt.Type,
			Data:      evt.Payload,
			Sequence:  evt.Sequence,
			Channel:   evt.Channel,
			Timestamp: evt.Timestamp,
		}
		if err := sess.writeFrame(frame); err != nil {
			return
		}
		s.metrics.eventsDelivered.Inc()
	}
	_ = channel
}

func (s *Server) pingPump(ctx context.Context, sess *session) error {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sess.pongMu.Lock()
			sess.missedPongs++
			missed := sess.missedPongs
			sess.pongMu.Unlock()

			if missed >= 2 {
				// Closing the connection unblocks readPump's pending read.
				_ = sess.conn.Close()
				return apperrors.New(apperrors.ErrorTypeProtocol, "session exceeded 2x ping interval without a pong")
			}
			if err := sess.writeFrame(PingFrame{Type: FramePing, Timestamp: time.Now()}); err != nil {
				return err
			}
		}
	}
}

// Shutdown sends a goodbye frame to every active session and closes their
// connections, honoring a bounded flush timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessionsMu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessionsMu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		sess := sess
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sess.writeFrame(GoodbyeFrame{Type: FrameGoodbye, Reason: "server shutting down"})
			_ = sess.conn.Close()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
