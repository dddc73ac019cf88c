package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	zlog "github.com/rs/zerolog/log"
	"github.com/seanblong/sortseek/internal/app"
	"github.com/seanblong/sortseek/internal/config"
	"github.com/seanblong/sortseek/internal/search"
	"github.com/seanblong/sortseek/internal/suggest"
	"github.com/seanblong/sortseek/pkg/models"
	"github.com/spf13/pflag"
)

type importRequest struct {
	Paths []string `json:"paths"`
	Force bool     `json:"force"`
}

type searchRequest struct {
	Query        string `json:"query"`
	FileType     string `json:"fileType"`
	Folder       string `json:"folder"`
	ImportedFrom string `json:"importedFrom"`
	ImportedTo   string `json:"importedTo"`
	Limit        int    `json:"limit"`
}

func (s searchRequest) filters() (models.Filters, error) {
	f := models.Filters{
		FileType: strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s.FileType)), "."),
		Folder:   strings.TrimSpace(s.Folder),
	}
	var err error
	if f.ImportedFrom, err = parseTime(s.ImportedFrom, false); err != nil {
		return f, err
	}
	if f.ImportedTo, err = parseTime(s.ImportedTo, true); err != nil {
		return f, err
	}
	return f, nil
}

type askRequest struct {
	Question string       `json:"question"`
	Filters  searchRequest `json:"filters"`
}

type pathRequest struct {
	Path      string `json:"path"`
	NewName   string `json:"newName,omitempty"`
	NewFolder string `json:"newFolder,omitempty"`
	MaxPages  int    `json:"maxPages,omitempty"`
}

type outcomeResponse struct {
	models.IndexOutcome
	Reason string `json:"reason,omitempty"`
}

var errBadRequest = errors.New("bad request")

// parseTime accepts RFC 3339 timestamps or plain dates. A plain upper bound
// covers the whole day.
func parseTime(v string, end bool) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid time %q", errBadRequest, v)
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, search.ErrEmptyQuery), errors.Is(err, suggest.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrVectorization):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ev := hlog.FromRequest(r).Warn()
	if status >= 500 {
		ev = hlog.FromRequest(r).Error()
	}
	ev.Err(err).Int("status", status).Msg("request failed")
	writeJSON(w, r, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func requirePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("%w: path is required", errBadRequest)
	}
	return nil
}

// sanitize zeroes scores JSON cannot encode.
func sanitize(resp *models.SearchResponse) {
	fix := func(r *models.SearchResult) {
		if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
			r.Score = 0
		}
	}
	if resp.Best != nil {
		fix(resp.Best)
	}
	for i := range resp.Secondary {
		fix(&resp.Secondary[i])
	}
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	_ = godotenv.Load()

	// Create flagset for configuration
	fs := pflag.NewFlagSet("sortseek-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Msg("starting sortseek api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"message": "pong"})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		body := map[string]any{"status": "healthy", "provider": a.Client.Name()}
		status := http.StatusOK
		if err := a.Store.Ping(ctx); err != nil {
			body["status"], body["store_error"] = "degraded", err.Error()
			status = http.StatusServiceUnavailable
		}
		if n, err := a.Index.Count(ctx); err != nil {
			body["status"], body["index_error"] = "degraded", err.Error()
			status = http.StatusServiceUnavailable
		} else {
			body["entries"] = n
		}
		writeJSON(w, r, status, body)
	})

	mux.HandleFunc("POST /import", func(w http.ResponseWriter, r *http.Request) {
		var req importRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if len(req.Paths) == 0 {
			writeError(w, r, fmt.Errorf("%w: paths are required", errBadRequest))
			return
		}
		start := time.Now()
		res := a.Indexer.ReconcileFolder(r.Context(), req.Paths, req.Force)
		hlog.FromRequest(r).Info().
			Int("indexed", res.Indexed).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Int("canceled", res.Canceled).
			Dur("dur", time.Since(start)).
			Msg("import finished")
		writeJSON(w, r, http.StatusOK, res)
	})

	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req searchRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		filters, err := req.filters()
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		resp, err := a.Search.Search(ctx, req.Query, filters, req.Limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		sanitize(&resp)
		writeJSON(w, r, http.StatusOK, resp)

		hlog.FromRequest(r).Info().Str("path", "/search").Str("q", req.Query).Int("results", len(resp.Results())).Dur("dur", time.Since(start)).Msg("served")
	})

	mux.HandleFunc("POST /ask", func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		filters, err := req.Filters.filters()
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		ans, err := a.Search.Answer(ctx, req.Question, filters)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, ans)
	})

	mux.HandleFunc("POST /suggest-name", func(w http.ResponseWriter, r *http.Request) {
		var req pathRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := requirePath(req.Path); err != nil {
			writeError(w, r, err)
			return
		}
		name, err := a.Suggest.SuggestName(r.Context(), req.Path)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]string{"suggested_name": name})
	})

	mux.HandleFunc("POST /suggest-folder", func(w http.ResponseWriter, r *http.Request) {
		var req pathRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := requirePath(req.Path); err != nil {
			writeError(w, r, err)
			return
		}
		folder, err := a.Suggest.SuggestFolder(r.Context(), req.Path)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]string{"suggested_folder": folder})
	})

	mux.HandleFunc("POST /apply-rename", func(w http.ResponseWriter, r *http.Request) {
		var req pathRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := requirePath(req.Path); err != nil {
			writeError(w, r, err)
			return
		}
		out, err := a.Suggest.ApplyRename(r.Context(), req.Path, req.NewName)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, out)
	})

	mux.HandleFunc("POST /apply-move", func(w http.ResponseWriter, r *http.Request) {
		var req pathRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := requirePath(req.Path); err != nil {
			writeError(w, r, err)
			return
		}
		out, err := a.Suggest.ApplyMove(r.Context(), req.Path, req.NewFolder)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, out)
	})

	mux.HandleFunc("POST /summarize-document", func(w http.ResponseWriter, r *http.Request) {
		var req pathRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := requirePath(req.Path); err != nil {
			writeError(w, r, err)
			return
		}
		sum, err := a.Suggest.SummarizeDocument(r.Context(), req.Path, req.MaxPages)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, sum)
	})

	mux.HandleFunc("GET /documents", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		docs, err := a.Store.List(ctx, queryInt(r, "offset", 0), queryInt(r, "limit", 100))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if docs == nil {
			docs = []models.DocumentRecord{}
		}
		writeJSON(w, r, http.StatusOK, docs)
	})

	mux.HandleFunc("GET /documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		doc, err := a.Store.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, doc)
	})

	mux.HandleFunc("DELETE /documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Indexer.Remove(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /documents/{id}/refresh", func(w http.ResponseWriter, r *http.Request) {
		out, err := a.Indexer.Refresh(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if out.Status == models.StatusFailed {
			writeError(w, r, out.Err)
			return
		}
		writeJSON(w, r, http.StatusOK, outcomeResponse{IndexOutcome: out, Reason: out.Reason()})
	})

	mux.HandleFunc("GET /indexed", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if err := requirePath(path); err != nil {
			writeError(w, r, err)
			return
		}
		ok, err := a.Indexer.IsIndexed(r.Context(), path)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"path": models.AbsPath(path).String(), "indexed": ok})
	})

	mux.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		entries, err := a.Store.RecentSearches(r.Context(), queryInt(r, "limit", 20))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if entries == nil {
			entries = []models.SearchHistoryEntry{}
		}
		writeJSON(w, r, http.StatusOK, entries)
	})

	mux.HandleFunc("GET /sweep", func(w http.ResponseWriter, r *http.Request) {
		issues, err := a.Indexer.Sweep(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if issues == nil {
			issues = []models.Inconsistency{}
		}
		writeJSON(w, r, http.StatusOK, issues)
	})

	mux.HandleFunc("POST /prune", func(w http.ResponseWriter, r *http.Request) {
		issues, err := a.Indexer.Sweep(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		fixed, err := a.Indexer.Prune(r.Context(), issues)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]int{"found": len(issues), "fixed": fixed})
	})

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server failed")
	}
}
