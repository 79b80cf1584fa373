package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Spok95/streampoints/internal/export"
	"github.com/Spok95/streampoints/internal/ingest"
	"github.com/Spok95/streampoints/internal/metrics"
	"github.com/Spok95/streampoints/internal/points"
	"go.uber.org/zap"
)

type Deps struct {
	Points     *points.Service
	Health     func(ctx context.Context) error // nil — всегда ok
	AdminToken string                          // пусто — админские маршруты открыты
	Log        *zap.Logger
}

type HTTPServer struct {
	srv *http.Server
}

func StartHTTP(ctx context.Context, addr string, d Deps) *HTTPServer {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(d),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.Log.Error("http server stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	return &HTTPServer{srv: srv}
}

func NewHandler(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	h := &handlers{Deps: d}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.healthz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/query", h.query)
	mux.HandleFunc("POST /api/tenants/{tenant}/uploads", h.admin(h.upload))
	mux.HandleFunc("GET /api/tenants/{tenant}/points", h.admin(h.list))
	mux.HandleFunc("DELETE /api/tenants/{tenant}/points/{user}", h.admin(h.clear))
	mux.HandleFunc("GET /api/tenants/{tenant}/stats", h.admin(h.stats))
	mux.HandleFunc("GET /api/tenants/{tenant}/history", h.admin(h.history))
	mux.HandleFunc("GET /api/tenants/{tenant}/export", h.admin(h.export))
	return mux
}

type handlers struct {
	Deps
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
		defer cancel()
		if err := h.Health(ctx); err != nil {
			http.Error(w, "storage not ok: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.AdminToken != "" {
			tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if tok != h.AdminToken {
				writeError(w, http.StatusUnauthorized, "unauthorized", "")
				return
			}
		}
		next(w, r)
	}
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required", "")
		return
	}
	users, err := h.Points.Lookup(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "found": len(users) > 0, "users": users})
}

func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, ingest.MaxFileSize+1<<20)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required: "+err.Error(), "")
		return
	}
	defer func() { _ = file.Close() }()

	res, err := h.Points.Ingest(r.Context(), points.Upload{
		Tenant: r.PathValue("tenant"), Filename: hdr.Filename, Body: file,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	page, err := h.Points.List(r.Context(), r.PathValue("tenant"), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) clear(w http.ResponseWriter, r *http.Request) {
	err := h.Points.Clear(r.Context(), r.PathValue("tenant"), r.PathValue("user"))
	if errors.Is(err, points.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, err.Error(), "")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Points.Stats(r.Context(), r.PathValue("tenant"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.Points.History(r.Context(), r.PathValue("tenant"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *handlers) export(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	rows, err := h.Points.Summary(r.Context(), tenant)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.Points.Settings(r.Context(), tenant)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	today := h.Points.Today()
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename*=UTF-8''`+
		strings.ReplaceAll(export.BuildSummaryFilename(tenant, today), " ", "%20"))
	if err := export.WriteSummary(w, rows, today, st.ValidityDays); err != nil {
		h.Log.Error("export summary", zap.String("tenant", tenant), zap.Error(err))
	}
}

// fail: ошибки файла — 422 с видом ошибки, остальное — 500.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, points.ErrNoTenant) {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	kind := ingest.KindOf(err)
	if ingest.Recoverable(err) {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), string(kind))
		return
	}
	h.Log.Error("request failed", zap.String("path", r.URL.Path), zap.String("kind", string(kind)), zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error(), string(kind))
}

func parseFilter(r *http.Request) (points.Filter, error) {
	q := r.URL.Query()
	f := points.Filter{
		UserID:   q.Get("user_id"),
		UserName: q.Get("user_name"),
		SortBy:   q.Get("sort_by"),
		Desc:     strings.EqualFold(q.Get("order"), "desc"),
	}
	var err error
	if f.MinPoints, err = optInt(q.Get("min_points")); err != nil {
		return f, errors.New("min_points must be an integer")
	}
	if f.MaxPoints, err = optInt(q.Get("max_points")); err != nil {
		return f, errors.New("max_points must be an integer")
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	return f, nil
}

func optInt(s string) (*int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	body := map[string]string{"error": msg}
	if kind != "" {
		body["kind"] = kind
	}
	writeJSON(w, status, body)
}
