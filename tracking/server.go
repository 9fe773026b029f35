package tracking

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
)

// Status is the run snapshot served by the monitoring endpoint
type Status struct {
	RunID        string `json:"run_id"`
	Round        int    `json:"round"`
	TotalRounds  int    `json:"total_rounds"`
	SnapshotSize int    `json:"snapshot_size"`
}

// StatusFunc supplies the current run status on demand
type StatusFunc func() Status

// Server exposes the recorded metric series and run status over HTTP while a
// self-training run is in flight
type Server struct {
	logger  hclog.Logger
	history *HistorySink
	status  StatusFunc
	server  *http.Server
}

// NewServer creates a monitoring server over the given history sink
func NewServer(logger hclog.Logger, addr string, history *HistorySink, status StatusFunc) *Server {
	s := &Server{
		logger:  logger.Named("tracking-server"),
		history: history,
		status:  status,
	}

	router := mux.NewRouter()
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/series", s.handleSeries).Methods(http.MethodGet)
	router.HandleFunc("/series/keys", s.handleKeys).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:     addr,
		Handler:  router,
		ErrorLog: s.logger.StandardLogger(&hclog.StandardLoggerOptions{}),
	}
	return s
}

// Start begins serving in a background goroutine
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting monitoring server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("monitoring server stopped", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler, exposed for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(s.status()); err != nil {
		s.logger.Error("error writing status", "error", err)
	}
}

func (s *Server) handleSeries(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	query := r.URL.Query()
	round, err := strconv.Atoi(query.Get("round"))
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	split := query.Get("split")
	metric := query.Get("metric")
	if split == "" || metric == "" {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}

	points := s.history.Series(round, split, metric)
	if err := json.NewEncoder(rw).Encode(points); err != nil {
		s.logger.Error("error writing series", "error", err)
	}
}

func (s *Server) handleKeys(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(s.history.Keys()); err != nil {
		s.logger.Error("error writing series keys", "error", err)
	}
}
