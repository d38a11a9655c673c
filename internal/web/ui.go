package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"

	"gitlab.bluewillows.net/root/dnsgate/internal/auth"
	"gitlab.bluewillows.net/root/dnsgate/internal/orchestrator"
	"gitlab.bluewillows.net/root/dnsgate/pkg/backend"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	pageIndex   = "index.html"
	pageForm    = "form.html"
	pageSearch  = "search_results.html"
	pageChanges = "changes.html"
	pageHistory = "history.html"
	pageError   = "error.html"
)

type pages struct {
	byName map[string]*template.Template
}

func loadPages() (*pages, error) {
	p := &pages{byName: make(map[string]*template.Template)}
	for _, name := range []string{pageIndex, pageForm, pageSearch, pageChanges, pageHistory, pageError} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		p.byName[name] = t
	}
	return p, nil
}

type field struct {
	Name     string
	Label    string
	Type     string
	Required bool
}

type form struct {
	Action string
	Fields []field
}

// view is the data every page template receives.
type view struct {
	Title   string
	User    string
	Zone    string
	Force   bool
	Form    form
	Answers []orchestrator.SearchResult
	Changes []string
	History []backend.HistoryEntry
	Error   string

	CSRFField template.HTML
}

var (
	fieldName    = field{Name: "name", Label: "Name:", Type: "text", Required: true}
	fieldAddress = field{Name: "address", Label: "Address:", Type: "text", Required: true}
	fieldEntry   = field{Name: "entry", Label: "Entry:", Type: "text", Required: true}
	fieldAlias   = field{Name: "alias", Label: "Alias:", Type: "text", Required: true}
	fieldTarget  = field{Name: "target", Label: "Real Name:", Type: "text", Required: true}
	fieldCount   = field{Name: "count", Label: "Number of entries:", Type: "number", Required: true}
	fieldStart   = field{Name: "start_index", Label: "Starting Index (optional):", Type: "text"}
	fieldTerms   = field{Name: "search_terms", Label: "Search Entries:", Type: "text", Required: true}
)

func (s *Server) routeUI(r *mux.Router) {
	open := r.NewRoute().Subrouter()
	open.Use(s.protect, s.auth.Identify)
	open.HandleFunc("/", s.uiIndex).Methods(http.MethodGet)
	open.HandleFunc("/index", s.uiIndex).Methods(http.MethodGet)
	open.HandleFunc("/search", s.uiSearchForm).Methods(http.MethodGet)
	open.HandleFunc("/search", s.uiSearch).Methods(http.MethodPost)
	open.HandleFunc("/search/{entry}", s.uiSearchEntry).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(s.protect, s.auth.Require)
	s.formRoute(authed, "/add", "Add", false, []field{fieldName, fieldAddress}, s.submitRecord)
	s.formRoute(authed, "/replace", "Replace", true, []field{fieldName, fieldAddress}, s.submitRecord)
	s.formRoute(authed, "/alias", "Add Alias", false, []field{fieldAlias, fieldTarget}, s.submitAlias)
	s.formRoute(authed, "/replace-alias", "Replace Alias", true, []field{fieldAlias, fieldTarget}, s.submitAlias)
	s.formRoute(authed, "/range-add", "Range Add", false, []field{fieldName, fieldAddress, fieldCount, fieldStart}, s.submitRange)
	s.formRoute(authed, "/range-replace", "Range Replace", true, []field{fieldName, fieldAddress, fieldCount, fieldStart}, s.submitRange)
	s.formRoute(authed, "/delete", "Delete", false, []field{fieldEntry}, s.submitDelete)
	s.formRoute(authed, "/range-delete", "Range Delete", false, []field{fieldEntry, fieldCount}, s.submitRangeDelete)
	authed.HandleFunc("/history", s.uiHistory).Methods(http.MethodGet)
	authed.HandleFunc("/clear-history", s.uiClearHistory).Methods(http.MethodPost)
}

// submitFunc applies a posted form for user.
type submitFunc func(r *http.Request, user string, force bool) ([]string, error)

// formRoute serves the form on GET and applies it on POST.
func (s *Server) formRoute(r *mux.Router, path, title string, force bool, fields []field, submit submitFunc) {
	r.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
		v := s.view(req, title)
		v.Force = force
		v.Form = form{Action: path, Fields: fields}
		s.render(w, http.StatusOK, pageForm, v)
	}).Methods(http.MethodGet)

	r.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
		v := s.view(req, title)
		if err := req.ParseForm(); err != nil {
			s.renderError(w, v, errors.New("form could not be read"))
			return
		}
		if err := requireFields(req, fields); err != nil {
			s.renderError(w, v, err)
			return
		}
		changes, err := submit(req, v.User, force)
		if err != nil {
			s.renderError(w, v, err)
			return
		}
		v.Changes = changes
		s.render(w, http.StatusOK, pageChanges, v)
	}).Methods(http.MethodPost)
}

func requireFields(r *http.Request, fields []field) error {
	for _, f := range fields {
		if f.Required && strings.TrimSpace(r.PostFormValue(f.Name)) == "" {
			return fmt.Errorf("%s is required", strings.ToLower(strings.TrimSuffix(f.Label, ":")))
		}
	}
	return nil
}

func formCount(r *http.Request) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue(fieldCount.Name)))
	if err != nil {
		return 0, errors.New("number of entries must be a whole number")
	}
	return n, nil
}

func (s *Server) submitRecord(r *http.Request, user string, force bool) ([]string, error) {
	addresses := strings.Fields(r.PostFormValue(fieldAddress.Name))
	return s.orch.AddRecord(r.Context(), user, r.PostFormValue(fieldName.Name), addresses, force)
}

func (s *Server) submitAlias(r *http.Request, user string, force bool) ([]string, error) {
	return s.orch.AddAlias(r.Context(), user, r.PostFormValue(fieldAlias.Name), r.PostFormValue(fieldTarget.Name), force)
}

func (s *Server) submitRange(r *http.Request, user string, force bool) ([]string, error) {
	count, err := formCount(r)
	if err != nil {
		return nil, err
	}
	return s.orch.AddRange(r.Context(), user,
		r.PostFormValue(fieldName.Name),
		r.PostFormValue(fieldAddress.Name),
		count,
		r.PostFormValue(fieldStart.Name),
		force,
	)
}

func (s *Server) submitDelete(r *http.Request, user string, _ bool) ([]string, error) {
	return s.orch.DeleteRecord(r.Context(), user, r.PostFormValue(fieldEntry.Name))
}

func (s *Server) submitRangeDelete(r *http.Request, user string, _ bool) ([]string, error) {
	count, err := formCount(r)
	if err != nil {
		return nil, err
	}
	return s.orch.DeleteRange(r.Context(), user, r.PostFormValue(fieldEntry.Name), count)
}

func (s *Server) uiIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, pageIndex, s.view(r, "Home"))
}

func (s *Server) uiSearchForm(w http.ResponseWriter, r *http.Request) {
	v := s.view(r, "Search")
	v.Form = form{Action: "/search", Fields: []field{fieldTerms}}
	s.render(w, http.StatusOK, pageForm, v)
}

func (s *Server) uiSearch(w http.ResponseWriter, r *http.Request) {
	v := s.view(r, "Search")
	terms := strings.Fields(r.PostFormValue(fieldTerms.Name))
	if len(terms) == 0 {
		s.renderError(w, v, errors.New("search entries is required"))
		return
	}
	v.Answers = s.orch.SearchMany(r.Context(), terms)
	s.render(w, http.StatusOK, pageSearch, v)
}

func (s *Server) uiSearchEntry(w http.ResponseWriter, r *http.Request) {
	v := s.view(r, "Search")
	v.Answers = s.orch.SearchMany(r.Context(), []string{mux.Vars(r)["entry"]})
	s.render(w, http.StatusOK, pageSearch, v)
}

func (s *Server) uiHistory(w http.ResponseWriter, r *http.Request) {
	v := s.view(r, "History")
	entries, err := s.orch.History(r.Context(), v.User)
	if err != nil {
		s.renderError(w, v, err)
		return
	}
	v.History = entries
	s.render(w, http.StatusOK, pageHistory, v)
}

func (s *Server) uiClearHistory(w http.ResponseWriter, r *http.Request) {
	v := s.view(r, "History")
	if err := s.orch.ClearHistory(r.Context(), v.User); err != nil {
		s.renderError(w, v, err)
		return
	}
	s.render(w, http.StatusOK, pageHistory, v)
}

func (s *Server) view(r *http.Request, title string) view {
	user, _ := auth.UserFrom(r.Context())
	return view{
		Title:     title,
		User:      user,
		Zone:      s.orch.Guard().ForwardZone(),
		CSRFField: csrf.TemplateField(r),
	}
}

func (s *Server) renderError(w http.ResponseWriter, v view, err error) {
	v.Title = "Error"
	v.Error = errorMessage(err)
	s.render(w, http.StatusBadRequest, pageError, v)
}

// render executes the page into a buffer first so a template failure can
// still produce a clean 500.
func (s *Server) render(w http.ResponseWriter, code int, page string, v view) {
	var buf bytes.Buffer
	if err := s.pages.byName[page].ExecuteTemplate(&buf, "layout", v); err != nil {
		s.logger.Error("rendering page",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}
