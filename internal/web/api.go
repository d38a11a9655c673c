package web

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"gitlab.bluewillows.net/root/dnsgate/internal/auth"
)

// maxBodyBytes caps API request bodies.
const maxBodyBytes = 64 << 10

var (
	errBadBody = errors.New("request body is not valid JSON")
	errNotJSON = errors.New("request body must be sent as application/json")
)

// Response is the body of every API answer.
type Response struct {
	Message any `json:"message"`
}

// RecordRequest is the body of /api/add and /api/replace. Address may hold
// several addresses separated by spaces.
type RecordRequest struct {
	Name      string   `json:"name"`
	Addresses []string `json:"addresses,omitempty"`
	Address   string   `json:"address,omitempty"`
}

func (r RecordRequest) addresses() []string {
	return append(append([]string(nil), r.Addresses...), strings.Fields(r.Address)...)
}

// AliasRequest is the body of /api/alias and /api/replace_alias.
type AliasRequest struct {
	Alias  string `json:"alias"`
	Target string `json:"target"`
}

// RangeRequest is the body of /api/range-add and /api/range-replace.
type RangeRequest struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Count      int    `json:"count"`
	StartIndex string `json:"start_index,omitempty"`
}

func (s *Server) routeAPI(r *mux.Router) {
	r.HandleFunc("/search/{entry}", s.apiSearch).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(s.auth.Require)
	authed.HandleFunc("/add", s.apiRecord(false)).Methods(http.MethodPost)
	authed.HandleFunc("/replace", s.apiRecord(true)).Methods(http.MethodPut, http.MethodPost)
	authed.HandleFunc("/alias", s.apiAlias(false)).Methods(http.MethodPost)
	authed.HandleFunc("/add_alias", s.apiAlias(false)).Methods(http.MethodPost)
	authed.HandleFunc("/replace_alias", s.apiAlias(true)).Methods(http.MethodPut, http.MethodPost)
	authed.HandleFunc("/delete/{entry}", s.apiDelete).Methods(http.MethodDelete)
	authed.HandleFunc("/range-add", s.apiRange(false)).Methods(http.MethodPost)
	authed.HandleFunc("/range-replace", s.apiRange(true)).Methods(http.MethodPut, http.MethodPost)
	authed.HandleFunc("/range-delete/{entry}", s.apiRangeDelete).Methods(http.MethodDelete)
	authed.HandleFunc("/history", s.apiHistory).Methods(http.MethodGet)
	authed.HandleFunc("/history", s.apiClearHistory).Methods(http.MethodDelete)
}

func (s *Server) apiSearch(w http.ResponseWriter, r *http.Request) {
	entry := mux.Vars(r)["entry"]
	answers, err := s.orch.Search(r.Context(), entry)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, map[string][]string{entry: answers})
}

func (s *Server) apiRecord(replace bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RecordRequest
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
		user, _ := auth.UserFrom(r.Context())
		changes, err := s.orch.AddRecord(r.Context(), user, req.Name, req.addresses(), replace)
		writeChanges(w, changes, err)
	}
}

func (s *Server) apiAlias(replace bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AliasRequest
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
		user, _ := auth.UserFrom(r.Context())
		changes, err := s.orch.AddAlias(r.Context(), user, req.Alias, req.Target, replace)
		writeChanges(w, changes, err)
	}
}

func (s *Server) apiDelete(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	changes, err := s.orch.DeleteRecord(r.Context(), user, mux.Vars(r)["entry"])
	writeChanges(w, changes, err)
}

func (s *Server) apiRange(replace bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RangeRequest
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
		user, _ := auth.UserFrom(r.Context())
		changes, err := s.orch.AddRange(r.Context(), user, req.Name, req.Address, req.Count, req.StartIndex, replace)
		writeChanges(w, changes, err)
	}
}

func (s *Server) apiRangeDelete(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil {
		writeError(w, errors.New("count must be a whole number"))
		return
	}
	user, _ := auth.UserFrom(r.Context())
	changes, err := s.orch.DeleteRange(r.Context(), user, mux.Vars(r)["entry"], count)
	writeChanges(w, changes, err)
}

func (s *Server) apiHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	entries, err := s.orch.History(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, entries)
}

func (s *Server) apiClearHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	if err := s.orch.ClearHistory(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, []string{})
}

// decode reads a JSON body. The content type is required so a cross-site
// page cannot submit a change as a plain form or text request.
func decode(r *http.Request, v any) error {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		return errNotJSON
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errBadBody
	}
	return nil
}

func writeChanges(w http.ResponseWriter, changes []string, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if changes == nil {
		changes = []string{}
	}
	writeMessage(w, changes)
}

func writeMessage(w http.ResponseWriter, message any) {
	writeJSON(w, http.StatusOK, Response{Message: message})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, Response{Message: errorMessage(err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
