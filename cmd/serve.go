package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-enrich/internal/bulk"
	"github.com/sells-group/crm-enrich/internal/errs"
	"github.com/sells-group/crm-enrich/internal/model"
	"github.com/sells-group/crm-enrich/internal/ratelimit"
	"github.com/sells-group/crm-enrich/internal/review"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for enrichment and review requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		mux := buildMux(e)
		limiter := ratelimit.New()
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: rateLimitMiddleware(limiter, cfg.RateLimit.Requests, time.Duration(cfg.RateLimit.WindowSecs)*time.Second, mux),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildMux wires the webhook routes over the engine.
func buildMux(e *env) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /enrich", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RecordID string   `json:"record_id"`
			Fields   []string `json:"fields"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RecordID == "" {
			http.Error(w, `{"error":"record_id is required"}`, http.StatusBadRequest)
			return
		}

		result, err := e.Orchestrator.EnrichMany(r.Context(), bulk.EnrichRequest{
			IDs:    []string{req.RecordID},
			Fields: req.Fields,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result.Results[0])
	})

	mux.HandleFunc("POST /enrich/batch", func(w http.ResponseWriter, r *http.Request) {
		var req bulk.EnrichRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		result, err := e.Orchestrator.EnrichMany(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("POST /review", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Action   string         `json:"action"`
			RecordID string         `json:"record_id"`
			RunID    string         `json:"run_id"`
			Fields   []string       `json:"fields"`
			Values   map[string]any `json:"edited_values"`
			Reviewer string         `json:"reviewer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		run, err := handleReview(r, e, req.Action, req.RecordID, req.RunID, req.Fields, req.Values, req.Reviewer)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	mux.HandleFunc("POST /review/batch", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Action   string            `json:"action"`
			Items    []bulk.ReviewItem `json:"items"`
			Reviewer string            `json:"reviewer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		action, ok := review.ParseAction(req.Action)
		if !ok {
			http.Error(w, `{"error":"action must be confirm or reject"}`, http.StatusBadRequest)
			return
		}
		summary, err := e.Orchestrator.ReviewMany(r.Context(), action, req.Items, req.Reviewer)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})

	mux.HandleFunc("GET /quota/{service}", func(w http.ResponseWriter, r *http.Request) {
		info, err := e.Quota.Info(r.Context(), r.PathValue("service"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	})

	mux.HandleFunc("GET /quota/{service}/history", func(w http.ResponseWriter, r *http.Request) {
		days := 7
		if raw := r.URL.Query().Get("days"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				days = n
			}
		}
		history, err := e.Quota.History(r.Context(), r.PathValue("service"), days)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	})

	return mux
}

// handleReview dispatches a single review action against the record's
// latest run (or an explicit run id).
func handleReview(r *http.Request, e *env, rawAction, recordID, runID string, rawFields []string, rawValues map[string]any, reviewerName string) (*model.EnrichmentRun, error) {
	action, ok := review.ParseAction(rawAction)
	if !ok {
		return nil, errs.Validationf("action must be confirm, reject, or edit")
	}
	if runID == "" {
		if recordID == "" {
			return nil, errs.Validationf("record_id or run_id is required")
		}
		latest, err := e.Store.FindLatestRun(r.Context(), recordID)
		if err != nil {
			return nil, errs.Persistence("find latest run", err)
		}
		if latest == nil {
			return nil, errs.Conflictf("record %s has no enrichment runs", recordID)
		}
		runID = latest.ID
	}

	switch action {
	case review.ActionEdit:
		if len(rawValues) == 0 {
			return nil, errs.Validationf("edit requires edited_values")
		}
		values := make(map[model.Field]any, len(rawValues))
		for key, v := range rawValues {
			f, ok := model.ParseField(key)
			if !ok {
				return nil, errs.Validationf("unknown field %q", key)
			}
			values[f] = v
		}
		return e.Review.Edit(r.Context(), runID, values, reviewerName)
	default:
		fields, unknown := model.ParseFields(rawFields)
		if len(unknown) > 0 {
			return nil, errs.Validationf("unknown fields %v", unknown)
		}
		if len(fields) == 0 {
			// Default to everything still pending on the run.
			current, err := e.Store.GetRun(r.Context(), runID)
			if err != nil {
				return nil, errs.Persistence("load run", err)
			}
			fields = current.PendingFields()
		}
		if action == review.ActionReject {
			return e.Review.Reject(r.Context(), runID, fields, reviewerName)
		}
		return e.Review.Confirm(r.Context(), runID, fields, reviewerName)
	}
}

// rateLimitMiddleware throttles requests per client IP with the
// fixed-window token bucket. Denials carry Retry-After.
func rateLimitMiddleware(limiter *ratelimit.Limiter, limit int, window time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		d := limiter.CheckAndConsume(host, limit, window)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(d.Reset).Seconds())+1))
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsValidation(err):
		status = http.StatusBadRequest
	case errs.IsConflict(err):
		status = http.StatusConflict
	case errs.IsQuotaExhausted(err):
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
