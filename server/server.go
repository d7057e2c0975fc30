// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/moneta-ai/moneta/a2a"
	"github.com/moneta-ai/moneta/server/event"
)

// Server is the HTTP face of the A2A protocol: the JSON-RPC endpoint with
// SSE streaming for subscriptions, the agent card, and the JWKS used to
// verify push notification signatures.
type Server struct {
	manager *Manager
	card    a2a.AgentCard
	logger  *slog.Logger
	mux     *http.ServeMux
	rpcPath string
	auth    *PushNotificationSenderAuth

	httpServer *http.Server
}

// Config holds configuration for the A2A server.
type Config struct {
	// AgentCard represents metadata about the agent.
	AgentCard a2a.AgentCard

	// Manager is the task lifecycle manager handling all operations.
	Manager *Manager

	// Auth serves the JWKS endpoint when set. It should be the same
	// instance the notifier signs with.
	Auth *PushNotificationSenderAuth

	// Logger for request handling. Optional.
	Logger *slog.Logger

	// RPCPath is the JSON-RPC endpoint path. Defaults to a2a.DefaultRPCURL.
	RPCPath string
}

// NewServer creates a new A2A server instance with the provided configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("task lifecycle manager is required")
	}
	if cfg.AgentCard.Name == "" {
		return nil, errors.New("agent card name is required")
	}

	s := &Server{
		manager: cfg.Manager,
		card:    cfg.AgentCard,
		logger:  cfg.Logger,
		mux:     http.NewServeMux(),
		rpcPath: cfg.RPCPath,
		auth:    cfg.Auth,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.rpcPath == "" {
		s.rpcPath = a2a.DefaultRPCURL
	}

	s.registerHandlers()
	return s, nil
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	s.logger.Info("a2a server listening", "addr", addr, "rpc_path", s.rpcPath)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and the in-flight task runs.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	return s.manager.Shutdown(ctx)
}

func (s *Server) registerHandlers() {
	s.mux.HandleFunc("GET "+a2a.AgentCardWellKnownPath, s.handleAgentCard)
	if s.auth != nil {
		s.mux.HandleFunc("GET "+a2a.JWKSWellKnownPath, s.auth.JWKSHandler())
	}
	s.mux.HandleFunc("POST "+s.rpcPath, s.handleRPC)
}

// handleAgentCard serves the agent card.
func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.MarshalWrite(w, s.card); err != nil {
		http.Error(w, "failed to encode agent card", http.StatusInternalServerError)
	}
}

// handleRPC decodes one JSON-RPC request and routes it by method.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req a2a.Request
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		s.writeResponse(w, a2a.NewErrorResponse(jsontext.Value("null"), a2a.JSONParseError{Msg: err.Error()}))
		return
	}
	id := req.ID
	if len(id) == 0 {
		id = jsontext.Value("null")
	}
	if err := req.Validate(); err != nil {
		s.writeResponse(w, a2a.NewErrorResponse(id, err))
		return
	}

	ctx := r.Context()
	switch req.Method {
	case a2a.MethodTasksSend:
		handleCall(s, w, req, id, func(params a2a.TaskSendParams) (any, error) {
			return s.manager.OnSendTask(ctx, params)
		})

	case a2a.MethodTasksGet:
		handleCall(s, w, req, id, func(params a2a.TaskQueryParams) (any, error) {
			return s.manager.OnGetTask(ctx, params)
		})

	case a2a.MethodTasksCancel:
		handleCall(s, w, req, id, func(params a2a.TaskIDParams) (any, error) {
			return s.manager.OnCancelTask(ctx, params)
		})

	case a2a.MethodTasksPushNotificationSet:
		if !s.card.Capabilities.PushNotifications {
			s.writeResponse(w, a2a.NewErrorResponse(id, a2a.PushNotificationNotSupportedError{}))
			return
		}
		handleCall(s, w, req, id, func(params a2a.TaskPushNotificationConfig) (any, error) {
			return s.manager.OnSetPushNotification(ctx, params)
		})

	case a2a.MethodTasksPushNotificationGet:
		if !s.card.Capabilities.PushNotifications {
			s.writeResponse(w, a2a.NewErrorResponse(id, a2a.PushNotificationNotSupportedError{}))
			return
		}
		handleCall(s, w, req, id, func(params a2a.TaskIDParams) (any, error) {
			return s.manager.OnGetPushNotification(ctx, params)
		})

	case a2a.MethodTasksSendSubscribe:
		if !s.card.Capabilities.Streaming {
			s.writeResponse(w, a2a.NewErrorResponse(id, a2a.UnsupportedOperationError{Operation: req.Method}))
			return
		}
		var params a2a.TaskSendParams
		if err := req.UnmarshalParams(&params); err != nil {
			s.writeResponse(w, a2a.NewErrorResponse(id, err))
			return
		}
		stream, err := s.manager.OnSendTaskSubscribe(ctx, params)
		if err != nil {
			s.writeResponse(w, a2a.NewErrorResponse(id, err))
			return
		}
		defer stream.Close()
		s.serveStream(w, r, id, stream)

	case a2a.MethodTasksResubscribe:
		if !s.card.Capabilities.Streaming {
			s.writeResponse(w, a2a.NewErrorResponse(id, a2a.UnsupportedOperationError{Operation: req.Method}))
			return
		}
		var params a2a.TaskQueryParams
		if err := req.UnmarshalParams(&params); err != nil {
			s.writeResponse(w, a2a.NewErrorResponse(id, err))
			return
		}
		stream, err := s.manager.OnResubscribe(ctx, params)
		if err != nil {
			s.writeResponse(w, a2a.NewErrorResponse(id, err))
			return
		}
		defer stream.Close()
		s.serveStream(w, r, id, stream)

	default:
		s.writeResponse(w, a2a.NewErrorResponse(id, a2a.MethodNotFoundError{Method: req.Method}))
	}
}

// handleCall runs one unary operation: decode params, invoke, respond.
func handleCall[P any](s *Server, w http.ResponseWriter, req a2a.Request, id jsontext.Value, op func(P) (any, error)) {
	var params P
	if err := req.UnmarshalParams(&params); err != nil {
		s.writeResponse(w, a2a.NewErrorResponse(id, err))
		return
	}
	result, err := op(params)
	if err != nil {
		s.logger.Info("rpc call failed", "method", req.Method, "error", err)
		s.writeResponse(w, a2a.NewErrorResponse(id, err))
		return
	}
	s.writeResponse(w, a2a.NewResponse(id, result))
}

// serveStream writes the stream to the client as server-sent events, one
// JSON-RPC response per frame.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, id jsontext.Value, stream *Stream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming is not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		ev, err := stream.Next(r.Context())
		if errors.Is(err, event.ErrSubscriptionClosed) {
			return
		}
		if err != nil {
			// Client went away or the request context expired.
			return
		}

		payload, err := json.Marshal(a2a.NewResponse(id, ev))
		if err != nil {
			s.logger.ErrorContext(r.Context(), "failed to encode stream event", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()

		if ev.IsFinal() {
			return
		}
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *a2a.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.MarshalWrite(w, resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
