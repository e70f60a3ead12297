package web

import (
	"html/template"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/hpungsan/efact/internal/document"
	"github.com/hpungsan/efact/internal/errors"
	"github.com/hpungsan/efact/internal/ops"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	sessions *Sessions
	renderer *Renderer
	notice   template.HTML
	logger   *zap.Logger
}

// HandleLoginForm handles GET /login — show the login form.
func (h *Handlers) HandleLoginForm(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.sessionFor(w, r)
	if sess.Authenticated() {
		http.Redirect(w, r, "/documents", http.StatusFound)
		return
	}
	h.renderer.renderPage(w, "login", h.loginData("", ""))
}

// HandleLogin handles POST /login — exchange credentials for a token.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.sessionFor(w, r)
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewValidation("invalid form data"))
		return
	}

	username := r.PostFormValue("username")
	out, err := ops.Login(r.Context(), sess, ops.LoginInput{
		Username: username,
		Password: r.PostFormValue("password"),
	})
	if err != nil {
		if wantsJSON(r) {
			h.renderer.renderError(w, r, err)
			return
		}
		eErr := errors.As(err)
		h.renderer.renderPageStatus(w, eErr.Status, "login", h.loginData(username, eErr.Message))
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, out)
		return
	}
	http.Redirect(w, r, "/documents", http.StatusSeeOther)
}

// HandleDocuments handles GET /documents — load the selected kind for the
// ticket and show it. ?kind= switches tabs, ?ticket= changes the ticket.
func (h *Handlers) HandleDocuments(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.sessionFor(w, r)
	if !sess.Authenticated() {
		h.requireLogin(w, r)
		return
	}

	q := r.URL.Query()
	if q.Has("ticket") {
		sess.SetTicket(q.Get("ticket"))
	}

	var err error
	switch {
	case !q.Has("ticket") && sess.State().Ticket == "":
		// nothing to load yet; show the empty viewer
	case q.Has("kind"):
		kind, perr := document.ParseKind(q.Get("kind"))
		if perr != nil {
			h.renderer.renderError(w, r, perr)
			return
		}
		err = sess.SelectKind(r.Context(), kind)
	default:
		err = sess.LoadCurrent(r.Context())
	}
	if errors.Is(err, errors.ErrAuthRequired) {
		h.requireLogin(w, r)
		return
	}

	status := http.StatusOK
	if err != nil {
		status = errors.As(err).Status
	}

	st := sess.State()
	if wantsJSON(r) {
		renderJSON(w, status, st)
		return
	}
	h.renderer.renderPageStatus(w, status, "documents", DocumentsPageData{
		PageData: PageData{
			Title:         "Documents",
			Version:       h.renderer.version,
			Authenticated: sess.Authenticated(),
		},
		Kinds: document.Kinds(),
		State: st,
	})
}

// HandleHandle handles GET /documents/handle/{id} — serve the live payload.
// Only the session's current handle is served; revoked ones are gone.
func (h *Handlers) HandleHandle(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.sessionFor(w, r)
	id := r.PathValue("id")

	handle, data, err := sess.Payload(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if handle.ID != id {
		h.renderer.renderError(w, r, errors.NewNotFound("document is no longer available; load it again"))
		return
	}

	disposition := "inline"
	if r.URL.Query().Get("download") == "1" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", handle.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{
		"filename": ops.DefaultFileName(handle),
	}))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleLogout handles POST /logout — clear the credential and the document.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.sessionFor(w, r)
	out, err := ops.Logout(r.Context(), sess)
	if err != nil {
		h.logger.Warn("logout incomplete", zap.Error(err))
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, out)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// HandleStatus handles GET /status — the session state as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.sessionFor(w, r)
	renderJSON(w, http.StatusOK, ops.Status("", sess))
}

// requireLogin sends the browser to the login form, or answers 401 to API
// callers.
func (h *Handlers) requireLogin(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		h.renderer.renderError(w, r, errors.NewAuthRequired())
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Handlers) loginData(username, message string) LoginPageData {
	return LoginPageData{
		PageData: PageData{
			Title:   "Log in",
			Version: h.renderer.version,
		},
		Notice:   h.notice,
		Username: username,
		Error:    message,
	}
}
