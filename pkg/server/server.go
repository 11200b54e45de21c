// HTTP API server for the knitterd daemon
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package server exposes the controller over HTTP and websocket. Every
// command route builds a command envelope, hands it to the control
// loop and blocks until the loop replies, so handlers never touch
// machine state directly.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"knitterd/pkg/dispatch"
	"knitterd/pkg/history"
	"knitterd/pkg/kniterr"
	"knitterd/pkg/log"
)

const (
	maxBodyBytes   = 1 << 20
	maxUploadBytes = 4 << 20
)

// Executor runs one command envelope on the control loop and returns
// its result.
type Executor interface {
	Execute(raw []byte) dispatch.Result
	History(limit int) ([]history.Run, error)
}

// Options configures the API server.
type Options struct {
	// Addr is the main listen address for REST, metrics and websocket.
	Addr string

	// WSAddr, when non-empty, starts a second websocket-only listener.
	WSAddr string

	// Executor runs command envelopes. Required.
	Executor Executor

	// Hub handles websocket clients. Required.
	Hub *Hub

	// Metrics, when non-nil, is mounted at /metrics.
	Metrics http.Handler

	Logger *log.Logger
}

// Server is the daemon's HTTP front end.
type Server struct {
	exec    Executor
	hub     *Hub
	metrics http.Handler
	logger  *log.Logger

	addr   string
	wsAddr string

	mu      sync.Mutex
	httpSrv *http.Server
	wsSrv   *http.Server
}

// New creates a server; call Start to listen.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLogger("http")
	}
	return &Server{
		exec:    opts.Executor,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		logger:  logger,
		addr:    opts.Addr,
		wsAddr:  opts.WSAddr,
	}
}

// Handler builds the main router. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.command(dispatch.OpGetStatus))
		r.Get("/config", s.command(dispatch.OpGetConfig))
		r.Post("/config", s.command(dispatch.OpSetConfig))

		r.Route("/motor", func(r chi.Router) {
			r.Post("/move", s.command(dispatch.OpMotorMove))
			r.Post("/stop", s.command(dispatch.OpMotorStop))
			r.Post("/home", s.command(dispatch.OpMotorHome))
			r.Post("/enable", s.command(dispatch.OpMotorEnable))
			r.Post("/disable", s.command(dispatch.OpMotorDisable))
		})

		r.Route("/pattern", func(r chi.Router) {
			r.Post("/upload", s.handleUpload)
			r.Get("/list", s.command(dispatch.OpPatternList))
			r.Post("/start", s.command(dispatch.OpPatternStart))
			r.Post("/pause", s.command(dispatch.OpPatternPause))
			r.Post("/resume", s.command(dispatch.OpPatternResume))
			r.Post("/stop", s.command(dispatch.OpPatternStop))
		})

		r.Route("/system", func(r chi.Router) {
			r.Post("/restart", s.command(dispatch.OpSystemRestart))
			r.Post("/reset", s.command(dispatch.OpSystemReset))
		})

		r.Post("/emergency_stop", s.command(dispatch.OpEmergencyStop))
		r.Get("/history", s.handleHistory)
	})

	if s.metrics != nil {
		r.Get("/metrics", s.metrics.ServeHTTP)
	}
	r.Get("/ws", s.hub.ServeHTTP)

	return r
}

// Start listens on the configured addresses. It blocks until the main
// listener stops. The optional websocket-only listener runs in the
// background and is torn down by Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.Handler()}
	if s.wsAddr != "" {
		wsMux := chi.NewRouter()
		wsMux.Get("/ws", s.hub.ServeHTTP)
		wsMux.Get("/", s.hub.ServeHTTP)
		s.wsSrv = &http.Server{Addr: s.wsAddr, Handler: wsMux}
	}
	httpSrv, wsSrv := s.httpSrv, s.wsSrv
	s.mu.Unlock()

	if wsSrv != nil {
		go func() {
			s.logger.Info("websocket listener on %s", s.wsAddr)
			if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("websocket listener: %v", err)
			}
		}()
	}

	s.logger.Info("api server listening on %s", s.addr)
	return httpSrv.ListenAndServe()
}

// Stop closes the listeners and disconnects websocket clients.
func (s *Server) Stop() error {
	s.hub.CloseAll()

	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	if s.wsSrv != nil {
		first = s.wsSrv.Close()
	}
	if s.httpSrv != nil {
		if err := s.httpSrv.Close(); first == nil {
			first = err
		}
	}
	return first
}

// command builds a handler that wraps the request body into the
// envelope for op and executes it on the control loop.
func (s *Server) command(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := envelopeFromBody(r, op)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeResult(w, s.exec.Execute(raw))
	}
}

// envelopeFromBody merges op into the JSON request body. An empty body
// yields a bare envelope.
func envelopeFromBody(r *http.Request, op string) ([]byte, error) {
	body := map[string]interface{}{}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, kniterr.BadRequest("reading request body: %v", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, kniterr.BadRequest("request body is not valid JSON: %v", err)
		}
	}
	body["type"] = op
	return json.Marshal(body)
}

// handleUpload accepts a multipart pattern upload under the form field
// "file" and stores it under its original filename.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, kniterr.BadRequest("parsing multipart form: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, kniterr.BadRequest("missing form field \"file\""))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		s.writeError(w, kniterr.BadRequest("reading upload: %v", err))
		return
	}

	raw, err := json.Marshal(map[string]interface{}{
		"type":     dispatch.OpPatternUpload,
		"filename": header.Filename,
		"content":  string(content),
	})
	if err != nil {
		s.writeError(w, fmt.Errorf("encoding upload envelope: %w", err))
		return
	}
	s.writeResult(w, s.exec.Execute(raw))
}

// handleHistory lists recorded pattern runs, newest first. The limit
// query parameter caps the result.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, kniterr.BadRequest("invalid limit %q", v))
			return
		}
		limit = n
	}

	runs, err := s.exec.History(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) writeResult(w http.ResponseWriter, res dispatch.Result) {
	if res.Err != nil {
		s.writeError(w, res.Err)
		return
	}
	payload := res.Payload
	if payload == nil {
		payload = map[string]interface{}{"result": "ok"}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := map[string]interface{}{"message": err.Error()}
	if code, ok := kniterr.CodeOf(err); ok {
		body["code"] = string(code)
	}
	s.writeJSON(w, kniterr.HTTPStatus(err), map[string]interface{}{"error": body})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encoding response: %v", err)
	}
}

// corsMiddleware allows browser frontends served from another origin
// to reach the API.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
