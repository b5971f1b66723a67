package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"i4.energy/across/atmodem/modem"
	"i4.energy/across/atmodem/store"
)

// Modem is the part of the driver the HTTP API uses.
type Modem interface {
	SendSMS(ctx context.Context, number, text string) ([]int, error)
	Execute(ctx context.Context, command string, opts ...modem.Option) (*modem.Response, error)
}

// MessageStore lists stored messages.
type MessageStore interface {
	Messages(ctx context.Context, filter store.Filter) ([]store.Message, int64, error)
}

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *slog.Logger
	Modem  Modem
	Store  MessageStore
	Events http.Handler

	once   sync.Once
	router *mux.Router
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() {
		s.router = mux.NewRouter()
		s.router.HandleFunc("/sms", s.handleSMS).Methods(http.MethodPost)
		s.router.HandleFunc("/at", s.handleAT).Methods(http.MethodPost)
		s.router.HandleFunc("/messages", s.handleMessages).Methods(http.MethodGet)
		s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
		if s.Events != nil {
			s.router.Handle("/ws/events", s.Events)
		}
	})
	s.router.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, body any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

// statusFor maps a modem error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, modem.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, modem.ErrProtocol):
		return http.StatusBadGateway
	case errors.Is(err, modem.ErrTransportClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleSMS processes incoming HTTP POST requests to send SMS messages
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	type SMSRequest struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}

	var req SMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.To == "" || req.Message == "" {
		s.sendError(w, "both 'to' and 'message' fields are required", http.StatusBadRequest)
		return
	}

	refs, err := s.Modem.SendSMS(r.Context(), req.To, req.Message)
	if err != nil {
		s.Logger.Error("Failed to send SMS", "error", err, "to", req.To)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	s.Logger.Info("SMS sent successfully", "to", req.To, "message_length", len(req.Message), "parts", len(refs))

	type SMSResponse struct {
		References []int `json:"references"`
	}
	s.sendJSON(w, SMSResponse{References: refs}, http.StatusOK)
}

// handleAT runs a raw AT command and returns its response lines
func (s *Server) handleAT(w http.ResponseWriter, r *http.Request) {
	type ATRequest struct {
		Command   string `json:"command"`
		TimeoutMS int    `json:"timeout_ms"`
	}
	type ATResponse struct {
		Lines      []string `json:"lines"`
		Terminator string   `json:"terminator"`
	}

	var req ATRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(strings.ToUpper(req.Command), "AT") {
		s.sendError(w, "'command' must start with AT", http.StatusBadRequest)
		return
	}

	var opts []modem.Option
	if req.TimeoutMS > 0 {
		opts = append(opts, modem.WithTimeout(time.Duration(req.TimeoutMS)*time.Millisecond))
	}

	resp, err := s.Modem.Execute(r.Context(), req.Command, opts...)
	if pe := (*modem.ProtocolError)(nil); errors.As(err, &pe) && resp != nil {
		s.sendJSON(w, ATResponse{Lines: resp.Lines, Terminator: pe.Terminator}, http.StatusBadGateway)
		return
	}
	if err != nil {
		s.Logger.Warn("AT command failed", "error", err, "command", req.Command)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	lines := resp.Lines
	if lines == nil {
		lines = []string{}
	}
	s.sendJSON(w, ATResponse{Lines: lines, Terminator: resp.Terminator}, http.StatusOK)
}

// handleMessages lists stored incoming messages
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		s.sendError(w, "message store disabled", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	filter := store.Filter{Sender: query.Get("sender")}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := query.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.sendError(w, "invalid '"+name+"' parameter", http.StatusBadRequest)
			return
		}
		*dst = n
	}

	messages, total, err := s.Store.Messages(r.Context(), filter)
	if err != nil {
		s.Logger.Error("Failed to list messages", "error", err)
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}

	type MessagesResponse struct {
		Messages []store.Message `json:"messages"`
		Total    int64           `json:"total"`
	}
	s.sendJSON(w, MessagesResponse{Messages: messages, Total: total}, http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
