package httpapi

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shtable/stbsync/internal/coltool"
	"github.com/shtable/stbsync/internal/digestauth"
	"github.com/shtable/stbsync/internal/logging"
	"github.com/shtable/stbsync/internal/reconcile"
	"github.com/shtable/stbsync/internal/store"
	"github.com/shtable/stbsync/internal/wire"
)

// Table bundles one shared table's store with the format that governs its
// header-row handling.
type Table struct {
	Store  store.Store
	Format reconcile.Format
}

// Server holds the dependencies for every HTTP handler: the set of shared
// tables this process serves, the Digest realm/credential lookup guarding
// them, the admin JWT guard for schema changes, and an injected logger
// (Design Notes: no package-global logging from library code).
type Server struct {
	Tables    map[string]*Table
	Digest    *digestauth.Server
	AdminAuth *AdminAuth
	Log       logging.Logger
}

// NewServer wires a Server from its dependencies, defaulting the logger to a
// no-op sink when none is supplied.
func NewServer(tables map[string]*Table, digest *digestauth.Server, admin *AdminAuth, log logging.Logger) *Server {
	if log == nil {
		log = logging.Nop{}
	}
	return &Server{Tables: tables, Digest: digest, AdminAuth: admin, Log: log}
}

// errorBody is the diagnostic XML document returned for a BadRequest, per
// spec.md §7 "Returns HTTP 500 with a diagnostic body in the current
// design" — the reference behavior, not redesigned (spec.md's Open
// Questions only flag the FORMAT_CONFLICT-commit and scan_since behaviors
// as reimplementation candidates).
type errorBody struct {
	XMLName       xml.Name `xml:"error"`
	Message       string   `xml:"message"`
	CorrelationID string   `xml:"correlation_id,omitempty"`
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, log logging.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())
	log.Warn("bad request", "err", err, "correlation_id", correlationID)
	body, encErr := wire.Encode(&errorBody{Message: err.Error(), CorrelationID: correlationID})
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusInternalServerError)
	if encErr == nil {
		w.Write(body)
	}
}

// Routes builds the chi router: request-id/recoverer/logger middleware
// (teacher's Routes() shape), an unauthenticated health check, one
// Digest-guarded POST endpoint per table, and the JWT-guarded admin
// column-addition endpoint.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/tables/{name}", func(r chi.Router) {
		r.Use(s.Digest.Middleware)
		r.Post("/", s.handleSync)
	})

	r.Route("/admin/tables/{name}/add-column", func(r chi.Router) {
		r.Use(s.AdminAuth.Middleware)
		r.Post("/", s.handleAddColumn)
	})

	return r
}

func (s *Server) tableFor(r *http.Request) (*Table, string, bool) {
	name := chi.URLParam(r, "name")
	t, ok := s.Tables[name]
	return t, name, ok
}

// handleSync implements the single push/pull endpoint per table: parse the
// <request> document, dispatch to reconcile.PullHandler or
// reconcile.PushHandler, and serialize the matching <response> document.
// This is the state machine of spec.md §4.2: Receive -> Parse -> {Pull |
// Push} -> Commit | Error.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	table, name, ok := s.tableFor(r)
	if !ok {
		writeBadRequest(w, r, s.Log, fmt.Errorf("httpapi: unknown table %q", name))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, r, s.Log, fmt.Errorf("httpapi: read body: %w", err))
		return
	}
	req, err := wire.DecodeRequest(body)
	if err != nil {
		writeBadRequest(w, r, s.Log, fmt.Errorf("httpapi: parse request: %w", err))
		return
	}

	switch req.Type {
	case wire.TypePull:
		s.handlePull(r, w, table, req)
	case wire.TypePush:
		s.handlePush(r, w, table, req, digestauthUsername(r))
	default:
		writeBadRequest(w, r, s.Log, fmt.Errorf("httpapi: unknown request type %q", req.Type))
	}
}

func (s *Server) handlePull(r *http.Request, w http.ResponseWriter, table *Table, req *wire.Request) {
	var pulledVersion int64
	if req.PulledVersion != nil {
		pulledVersion = *req.PulledVersion
	}

	result, err := reconcile.PullHandler(r.Context(), table.Store, pulledVersion, table.Format)
	if err != nil {
		s.Log.Error("pull failed", err, "correlation_id", GetCorrelationID(r.Context()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := &wire.PullResponse{Version: result.Version}
	for _, row := range result.Rows {
		resp.Rows = append(resp.Rows, wire.Row{ID: row.ID, Version: row.Version, Data: row.Data})
	}
	writeXML(w, resp, s.Log)
}

func (s *Server) handlePush(r *http.Request, w http.ResponseWriter, table *Table, req *wire.Request, user string) {
	mods := make([]reconcile.ModRow, 0, len(req.Rows))
	for _, row := range req.Rows {
		mods = append(mods, reconcile.ModRow{ID: row.ID, Version: row.Version, Data: row.Data})
	}
	news := make([]string, 0, len(req.NewRows))
	for _, row := range req.NewRows {
		news = append(news, row.Data)
	}

	result, err := reconcile.PushHandler(r.Context(), table.Store, user, mods, news, table.Format)
	if err != nil {
		s.Log.Error("push failed", err, "correlation_id", GetCorrelationID(r.Context()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := &wire.PushResponse{
		Result:        result.Result,
		Version:       result.Version,
		ConflictCount: result.ConflictCount,
	}
	for _, id := range result.ModifiedIDs {
		resp.ModifiedRows = append(resp.ModifiedRows, wire.IDRow{ID: id})
	}
	for _, id := range result.NewIDs {
		resp.NewRows = append(resp.NewRows, wire.IDRow{ID: id})
	}
	writeXML(w, resp, s.Log)
}

// addColumnReq is the admin endpoint's JSON body.
type addColumnReq struct {
	After string `json:"after"`
	New   string `json:"new"`
}

// handleAddColumn runs the server-side column-addition utility (spec.md
// §4.7) over the named table's repository store, inside one transaction.
func (s *Server) handleAddColumn(w http.ResponseWriter, r *http.Request) {
	table, name, ok := s.tableFor(r)
	if !ok {
		writeBadRequest(w, r, s.Log, fmt.Errorf("httpapi: unknown table %q", name))
		return
	}

	var req addColumnReq
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, s.Log, fmt.Errorf("httpapi: parse add-column request: %w", err))
		return
	}
	if req.After == "" || req.New == "" {
		writeBadRequest(w, r, s.Log, fmt.Errorf("httpapi: add-column requires both \"after\" and \"new\""))
		return
	}

	if err := coltool.AddColumnServer(r.Context(), table.Store, req.After, req.New); err != nil {
		s.Log.Error("add-column failed", err, "table", name, "admin", AdminSubject(r.Context()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.Log.Info("add-column applied", "table", name, "after", req.After, "new", req.New, "admin", AdminSubject(r.Context()))
	w.WriteHeader(http.StatusOK)
}

func writeXML(w http.ResponseWriter, v any, log logging.Logger) {
	body, err := wire.Encode(v)
	if err != nil {
		log.Error("encode response", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// digestauthUsername recovers the authenticated username the Digest
// middleware already validated, for the store's "last writer" column.
func digestauthUsername(r *http.Request) string {
	params, err := digestauth.ParseAuthorization(r.Header.Get("Authorization"))
	if err != nil {
		return ""
	}
	return params["username"]
}
