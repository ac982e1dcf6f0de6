package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"nexumdb/pkg/common"
	"nexumdb/pkg/core"
	"nexumdb/pkg/errors"
	"nexumdb/pkg/optimizer"
	"nexumdb/pkg/protocol"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const maxQueryBytes = 1 << 20

type Server struct {
	db     *core.DB
	logger *zap.Logger
	srv    *http.Server
}

func NewServer(db *core.DB, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{db: db, logger: logger.Named("api")}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", s.handleQuery)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/cache/export", s.handleCacheExport)
	mux.HandleFunc("/api/cache/clear", s.handleCacheClear)
	mux.HandleFunc("/api/cache/save", s.handleCacheSave)
	mux.HandleFunc("/api/policy", s.handlePolicy)
	mux.Handle("/metrics", s.db.Metrics().Handler())
	return mux
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening", zap.String("addr", addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Kind        common.ResultKind `json:"kind"`
	Table       string            `json:"table,omitempty"`
	Columns     []string          `json:"columns,omitempty"`
	Rows        [][]interface{}   `json:"rows,omitempty"`
	Tables      []string          `json:"tables,omitempty"`
	Affected    int               `json:"affected"`
	CacheHit    bool              `json:"cache_hit"`
	SemanticHit bool              `json:"semantic_hit"`
	Strategy    string            `json:"strategy,omitempty"`
	LatencyNS   int64             `json:"latency_ns"`
}

// handleQuery accepts {"query": "..."} or, with any other content type, the
// raw statement text.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxQueryBytes))
	if err != nil {
		http.Error(w, "Invalid body", http.StatusBadRequest)
		return
	}
	query := string(body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req queryRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "Invalid body", http.StatusBadRequest)
			return
		}
		query = req.Query
	}
	if strings.TrimSpace(query) == "" {
		http.Error(w, "Empty query", http.StatusBadRequest)
		return
	}

	res, err := s.db.Query(query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, queryResponse{
		Kind:        res.Kind,
		Table:       res.Table,
		Columns:     res.Columns,
		Rows:        res.NativeRows(),
		Tables:      res.Tables,
		Affected:    res.Affected,
		CacheHit:    res.CacheHit,
		SemanticHit: res.SemanticHit,
		Strategy:    res.Strategy,
		LatencyNS:   res.Elapsed.Nanoseconds(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	report, err := s.db.Report()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCacheExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	c := s.db.Cache()
	if c == nil {
		http.Error(w, "Cache disabled", http.StatusNotFound)
		return
	}
	data, err := c.MarshalJSONDump()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment;filename=semantic_cache.json")
	w.Write(data)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.db.ClearCache(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("cache cleared")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Cache cleared"))
}

func (s *Server) handleCacheSave(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.db.SaveCache(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Cache saved"))
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	p := s.db.Policy()
	if p == nil {
		s.writeJSON(w, http.StatusOK, []optimizer.StateValues{})
		return
	}
	s.writeJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.IsCode(err, errors.StorageError) {
		status = http.StatusInternalServerError
		s.logger.Error("query failed", zap.Error(err))
	}
	s.writeJSON(w, status, protocol.ErrorBodyOf(err))
}
