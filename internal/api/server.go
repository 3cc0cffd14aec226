// Package api provides the HTTP API of the go-tmtc server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-tmtc/internal/command"
	"github.com/resident-x/go-tmtc/internal/config"
	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/metrics"
	"github.com/resident-x/go-tmtc/internal/scheduler"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/service"
	"github.com/resident-x/go-tmtc/internal/session"
)

// Version is reported by the status endpoint.
var Version = "dev"

const maxBodyBytes = 1 << 20

// Link is the uplink side of the link server.
type Link interface {
	SessionStats() []session.Stats
	SendCommand(id string, binary []byte) ([]string, error)
}

// Schedule reports the periodic commands.
type Schedule interface {
	Stats() scheduler.Stats
}

// Server represents the HTTP API server that provides monitoring and
// commanding.
type Server struct {
	config    *config.Config
	server    *http.Server
	router    *mux.Router
	processor *service.Processor
	link      Link
	schedule  Schedule
	metrics   *metrics.Metrics
	history   *CommandHistory
	converter *FormatConverter
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a new HTTP API server. link and m may be nil.
func NewServer(cfg *config.Config, processor *service.Processor, link Link, m *metrics.Metrics) *Server {
	s := &Server{
		config:    cfg,
		router:    mux.NewRouter(),
		processor: processor,
		link:      link,
		metrics:   m,
		history:   NewCommandHistory(defaultHistorySize),
		converter: NewFormatConverter(),
		logger:    log.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

// SetSchedule exposes the command scheduler on /api/v1/schedule.
func (s *Server) SetSchedule(schedule Schedule) {
	s.schedule = schedule
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	api.HandleFunc("/containers", s.handleListContainers).Methods(http.MethodGet)
	api.HandleFunc("/containers/{name}", s.handleGetContainer).Methods(http.MethodGet)

	api.HandleFunc("/parameters", s.handleListParameters).Methods(http.MethodGet)
	api.HandleFunc("/parameters/{name}", s.handleGetParameter).Methods(http.MethodGet)

	api.HandleFunc("/subscription", s.handleGetSubscription).Methods(http.MethodGet)
	api.HandleFunc("/subscription", s.handleSubscribe).Methods(http.MethodPost)
	api.HandleFunc("/subscription", s.handleUnsubscribe).Methods(http.MethodDelete)

	api.HandleFunc("/decode", s.handleDecode).Methods(http.MethodPost)

	api.HandleFunc("/commands", s.handleListCommands).Methods(http.MethodGet)
	api.HandleFunc("/commands/history", s.handleCommandHistory).Methods(http.MethodGet)
	api.HandleFunc("/commands/{name}", s.handleBuildCommand).Methods(http.MethodPost)
	api.HandleFunc("/schedule", s.handleSchedule).Methods(http.MethodGet)

	api.HandleFunc("/alarms", s.handleAlarms).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)

	if s.metrics != nil && s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}
	return nil
}

// handleStatus returns server status information.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	db := s.processor.Database()
	sessions := 0
	if s.link != nil {
		sessions = len(s.link.SessionStats())
	}

	s.writeJSON(w, map[string]interface{}{
		"status":               "ok",
		"version":              Version,
		"uptime":               time.Since(s.startTime).String(),
		"parameterCount":       len(db.Parameters()),
		"containerCount":       len(db.Containers()),
		"commandCount":         len(db.Commands()),
		"subscribedParameters": len(s.processor.Subscription().Parameters()),
		"receivedContainers":   len(s.processor.Stats().All()),
		"activeAlarms":         len(s.processor.Alarms().Active()),
		"linkSessions":         sessions,
		"linkEnabled":          s.link != nil,
	}, http.StatusOK)
}

// handleListContainers returns the reception statistics of every
// container seen so far.
func (s *Server) handleListContainers(w http.ResponseWriter, _ *http.Request) {
	stats := s.processor.Stats().All()
	s.writeJSON(w, map[string]interface{}{
		"containers": stats,
		"count":      len(stats),
	}, http.StatusOK)
}

// handleGetContainer returns the statistics of one container. A container
// not received yet has a zero count.
func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	c, ok := s.processor.Database().Container(name)
	if !ok {
		s.writeError(w, "Container not found", http.StatusNotFound)
		return
	}

	stats, ok := s.processor.Stats().Get(name)
	if !ok {
		stats = &domain.ContainerStats{Name: name}
	}
	base := ""
	if c.Base != nil {
		base = c.Base.Name
	}
	s.writeJSON(w, map[string]interface{}{
		"name":       stats.Name,
		"base":       base,
		"subscribed": s.processor.Subscription().IsSubscribed(c),
		"stats":      stats,
	}, http.StatusOK)
}

// handleListParameters returns the last value of every received parameter.
func (s *Server) handleListParameters(w http.ResponseWriter, _ *http.Request) {
	values := s.processor.Cache().Values()
	s.writeJSON(w, map[string]interface{}{
		"parameters": values,
		"count":      len(values),
	}, http.StatusOK)
}

// handleGetParameter returns the last value of a parameter, and with
// ?history=N up to N values newest first.
func (s *Server) handleGetParameter(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, ok := s.processor.Database().Parameter(name)
	if !ok {
		s.writeError(w, "Parameter not found", http.StatusNotFound)
		return
	}

	pv, ok := s.processor.Cache().Get(p)
	if !ok {
		s.writeError(w, "No value received", http.StatusNotFound)
		return
	}

	resp := map[string]interface{}{
		"parameter": name,
		"value":     pv,
		"expired":   pv.IsExpired(time.Now()),
	}
	if h := r.URL.Query().Get("history"); h != "" {
		n, err := strconv.Atoi(h)
		if err != nil || n <= 0 {
			s.writeError(w, "history must be a positive integer", http.StatusBadRequest)
			return
		}
		resp["history"] = s.processor.Cache().History(p, n)
	}
	s.writeJSON(w, resp, http.StatusOK)
}

type subscriptionRequest struct {
	Parameters []string `json:"parameters"`
	Containers []string `json:"containers"`
}

// handleGetSubscription lists the parameters currently decoded.
func (s *Server) handleGetSubscription(w http.ResponseWriter, _ *http.Request) {
	params := s.processor.Subscription().Parameters()
	names := make([]string, 0, len(params))
	for _, p := range params {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	s.writeJSON(w, map[string]interface{}{
		"parameters": names,
		"count":      len(names),
	}, http.StatusOK)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	s.changeSubscription(w, r, true)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	s.changeSubscription(w, r, false)
}

// changeSubscription resolves every name before touching the
// subscription, so a bad request changes nothing.
func (s *Server) changeSubscription(w http.ResponseWriter, r *http.Request, add bool) {
	var req subscriptionRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if len(req.Parameters) == 0 && len(req.Containers) == 0 {
		s.writeError(w, "no parameters or containers given", http.StatusBadRequest)
		return
	}

	db := s.processor.Database()
	params := make([]*schema.Parameter, 0, len(req.Parameters))
	for _, name := range req.Parameters {
		p, ok := db.Parameter(name)
		if !ok {
			s.writeError(w, fmt.Sprintf("unknown parameter %q", name), http.StatusBadRequest)
			return
		}
		params = append(params, p)
	}
	containers := make([]*schema.SequenceContainer, 0, len(req.Containers))
	for _, name := range req.Containers {
		c, ok := db.Container(name)
		if !ok {
			s.writeError(w, fmt.Sprintf("unknown container %q", name), http.StatusBadRequest)
			return
		}
		containers = append(containers, c)
	}

	sub := s.processor.Subscription()
	if add {
		sub.AddParameters(params)
	} else {
		sub.RemoveParameters(params)
	}
	for _, c := range containers {
		if add {
			sub.AddContainer(c)
		} else {
			sub.RemoveContainer(c)
		}
	}

	s.logger.Info().
		Bool("add", add).
		Strs("parameters", req.Parameters).
		Strs("containers", req.Containers).
		Msg("Subscription changed")
	s.handleGetSubscription(w, r)
}

type decodeRequest struct {
	Data      string `json:"data"`
	Format    string `json:"format"`
	Container string `json:"container"`
	// Ingest processes the packet as if received on the link.
	Ingest bool `json:"ingest"`
}

// handleDecode decodes a packet given in hex or base64.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	format, err := s.converter.ValidateFormat(req.Format)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := s.converter.Decode(req.Data, format)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		s.writeError(w, "empty packet", http.StatusBadRequest)
		return
	}

	var pkt *service.Packet
	if req.Ingest {
		if req.Container != "" {
			s.writeError(w, "ingested packets always start at the root container", http.StatusBadRequest)
			return
		}
		pkt, err = s.processor.Process(r.Context(), service.SourceAPI, data)
	} else {
		pkt, err = s.processor.Decode(r.Context(), data, req.Container)
	}
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, service.ErrUnknownContainer) {
			status = http.StatusNotFound
		}
		s.writeError(w, err.Error(), status)
		return
	}
	s.writeJSON(w, pkt, http.StatusOK)
}

type argumentInfo struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Unit         string  `json:"unit,omitempty"`
	Description  string  `json:"description,omitempty"`
	InitialValue *string `json:"initial_value,omitempty"`
}

type commandInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Base        string         `json:"base,omitempty"`
	Arguments   []argumentInfo `json:"arguments"`
}

// handleListCommands lists the commands that can be built, with the
// arguments of their whole hierarchy.
func (s *Server) handleListCommands(w http.ResponseWriter, _ *http.Request) {
	commands := make([]commandInfo, 0)
	for _, mc := range s.processor.Database().Commands() {
		if mc.Abstract {
			continue
		}
		info := commandInfo{Name: mc.Name, Description: mc.Description, Arguments: []argumentInfo{}}
		if mc.Base != nil {
			info.Base = mc.Base.Name
		}
		var chain []*schema.MetaCommand
		for cur := mc; cur != nil; cur = cur.Base {
			chain = append([]*schema.MetaCommand{cur}, chain...)
		}
		for _, cur := range chain {
			for _, a := range cur.Arguments {
				bt := a.Type.Base()
				info.Arguments = append(info.Arguments, argumentInfo{
					Name:         a.Name,
					Type:         bt.Name,
					Unit:         bt.Unit,
					Description:  a.Description,
					InitialValue: a.InitialValue,
				})
			}
		}
		commands = append(commands, info)
	}
	s.writeJSON(w, map[string]interface{}{
		"commands": commands,
		"count":    len(commands),
	}, http.StatusOK)
}

type commandRequest struct {
	Arguments map[string]string `json:"arguments"`
	// Send uplinks the command on the link session named by Session, or
	// on every open session when Session is empty.
	Send    bool   `json:"send"`
	Session string `json:"session"`
}

// handleBuildCommand encodes a command and optionally uplinks it.
func (s *Server) handleBuildCommand(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req commandRequest
	if r.ContentLength != 0 && !s.readJSON(w, r, &req) {
		return
	}

	rec := CommandRecord{Command: name, Time: time.Now()}
	res, err := s.processor.BuildCommand(name, req.Arguments)
	if err != nil {
		rec.Error = err.Error()
		s.history.Add(rec)
		s.writeError(w, err.Error(), commandStatus(err))
		return
	}
	rec.Binary = s.converter.Encode(res.Binary, FormatHex)
	rec.Arguments = res.Arguments

	if req.Send {
		if s.link == nil {
			rec.Error = "link server disabled"
			s.history.Add(rec)
			s.writeError(w, rec.Error, http.StatusServiceUnavailable)
			return
		}
		rec.SentTo, err = s.link.SendCommand(req.Session, res.Binary)
		if err != nil {
			rec.Error = err.Error()
			s.history.Add(rec)
			status := http.StatusBadGateway
			if errors.Is(err, service.ErrNoSession) {
				status = http.StatusConflict
			}
			s.writeError(w, err.Error(), status)
			return
		}
		s.logger.Info().Str("command", name).Strs("sessions", rec.SentTo).Msg("Command sent")
	}

	s.history.Add(rec)
	s.writeJSON(w, rec, http.StatusOK)
}

func commandStatus(err error) int {
	var argErr *command.ArgumentError
	switch {
	case errors.Is(err, command.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.As(err, &argErr), errors.Is(err, command.ErrAbstractCommand),
		errors.Is(err, command.ErrTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, command.ErrNoValue):
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

// handleCommandHistory returns the recent commands, newest first.
func (s *Server) handleCommandHistory(w http.ResponseWriter, _ *http.Request) {
	records := s.history.Recent()
	s.writeJSON(w, map[string]interface{}{
		"commands": records,
		"count":    len(records),
	}, http.StatusOK)
}

// handleAlarms returns the raised alarms.
func (s *Server) handleAlarms(w http.ResponseWriter, _ *http.Request) {
	alarms := s.processor.Alarms().Active()
	s.writeJSON(w, map[string]interface{}{
		"alarms": alarms,
		"count":  len(alarms),
	}, http.StatusOK)
}

// handleSchedule returns the scheduler counters and jobs.
func (s *Server) handleSchedule(w http.ResponseWriter, _ *http.Request) {
	if s.schedule == nil {
		s.writeJSON(w, scheduler.Stats{Jobs: []scheduler.JobStatus{}}, http.StatusOK)
		return
	}
	s.writeJSON(w, s.schedule.Stats(), http.StatusOK)
}

// handleSessions returns the open link sessions.
func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := []session.Stats{}
	if s.link != nil {
		sessions = s.link.SessionStats()
	}
	s.writeJSON(w, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	}, http.StatusOK)
}

// readJSON decodes the request body into dst and answers 400 on failure.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode error response")
	}
}
