package handlers

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gluk-w/webssh/internal/logutil"
	"github.com/gluk-w/webssh/internal/middleware"
	"github.com/gluk-w/webssh/internal/sshaudit"
	"github.com/gluk-w/webssh/internal/sshproxy"
	"github.com/gluk-w/webssh/internal/webshell"
)

//go:embed templates/index.html
var templatesFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

var (
	// Shell runs commands for sessions. Set by main.
	Shell *webshell.Service

	// MaxKeyBytes bounds an uploaded private key. Set by main.
	MaxKeyBytes int64 = 64 * 1024
)

// formOverhead is room for the text fields of the multipart form on top of
// the key file.
const formOverhead = 1 << 20

// Index renders the form, connection status, transcript and pending
// notices.
func Index(w http.ResponseWriter, r *http.Request) {
	view, err := Shell.View(middleware.GetSessionID(r))
	if err != nil {
		log.Printf("[handlers] load view: %v", err)
		http.Error(w, "Could not load session", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, view); err != nil {
		log.Printf("[handlers] render index: %v", err)
		http.Error(w, "Could not render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// ExecuteForm handles the multipart form post and redirects back to the
// index, where the outcome is shown.
func ExecuteForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxKeyBytes+formOverhead)
	if err := r.ParseMultipartForm(MaxKeyBytes + formOverhead); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := webshell.Request{
		Host:       r.FormValue("host"),
		Port:       r.FormValue("port"),
		Username:   r.FormValue("username"),
		Command:    r.FormValue("command"),
		Passphrase: r.FormValue("key_passphrase"),
		Password:   r.FormValue("password"),
		SourceIP:   sshaudit.ExtractSourceIP(r),
	}

	file, header, err := r.FormFile("private_key_file")
	switch {
	case err == nil:
		defer file.Close()
		if header.Filename != "" {
			// One byte over the limit is enough for the size check to fire.
			req.KeyPEM, err = io.ReadAll(io.LimitReader(file, MaxKeyBytes+1))
			if err != nil {
				http.Error(w, "Could not read key file", http.StatusBadRequest)
				return
			}
		}
	case !errors.Is(err, http.ErrMissingFile):
		http.Error(w, "Invalid key file upload", http.StatusBadRequest)
		return
	}

	sid := middleware.GetSessionID(r)
	if err := Shell.Execute(r.Context(), sid, req); err != nil {
		log.Printf("[handlers] execute for session %s: %v", logutil.ShortID(sid), err)
		http.Error(w, "Could not update session", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// DisconnectPage closes the session's connection and redirects to the
// index.
func DisconnectPage(w http.ResponseWriter, r *http.Request) {
	sid := middleware.GetSessionID(r)
	if err := Shell.Disconnect(sid, sshaudit.ExtractSourceIP(r)); err != nil {
		log.Printf("[handlers] disconnect for session %s: %v", logutil.ShortID(sid), err)
		http.Error(w, "Could not update session", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// portField accepts a port given as a JSON number or string.
type portField string

func (p *portField) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*p = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*p = portField(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("port: %w", err)
	}
	*p = portField(n.String())
	return nil
}

type executeRequest struct {
	Host          string    `json:"host"`
	Port          portField `json:"port"`
	Username      string    `json:"username"`
	Command       string    `json:"command"`
	PrivateKey    string    `json:"private_key"`
	KeyPassphrase string    `json:"key_passphrase"`
	Password      string    `json:"password"`
}

// ExecuteAPI is the JSON counterpart of ExecuteForm. It responds with the
// resulting view.
func ExecuteAPI(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxKeyBytes+formOverhead)

	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req := webshell.Request{
		Host:       body.Host,
		Port:       string(body.Port),
		Username:   body.Username,
		Command:    body.Command,
		Passphrase: body.KeyPassphrase,
		Password:   body.Password,
		SourceIP:   sshaudit.ExtractSourceIP(r),
	}
	if body.PrivateKey != "" {
		req.KeyPEM = []byte(body.PrivateKey)
	}

	sid := middleware.GetSessionID(r)
	if err := Shell.Execute(r.Context(), sid, req); err != nil {
		log.Printf("[handlers] execute for session %s: %v", logutil.ShortID(sid), err)
		writeError(w, http.StatusInternalServerError, "Could not update session")
		return
	}
	writeView(w, sid)
}

// DisconnectAPI closes the session's connection and responds with the
// resulting view.
func DisconnectAPI(w http.ResponseWriter, r *http.Request) {
	sid := middleware.GetSessionID(r)
	if err := Shell.Disconnect(sid, sshaudit.ExtractSourceIP(r)); err != nil {
		log.Printf("[handlers] disconnect for session %s: %v", logutil.ShortID(sid), err)
		writeError(w, http.StatusInternalServerError, "Could not update session")
		return
	}
	writeView(w, sid)
}

type connectionInfo struct {
	Target      string    `json:"target"`
	ConnectedAt time.Time `json:"connected_at"`
	LastUsed    time.Time `json:"last_used"`
}

type sessionStatus struct {
	webshell.View
	Connection *connectionInfo            `json:"connection,omitempty"`
	Events     []sshproxy.ConnectionEvent `json:"events"`
}

// SessionStatus returns the view plus the recent connection events.
func SessionStatus(w http.ResponseWriter, r *http.Request) {
	sid := middleware.GetSessionID(r)
	view, err := Shell.View(sid)
	if err != nil {
		log.Printf("[handlers] load view: %v", err)
		writeError(w, http.StatusInternalServerError, "Could not load session")
		return
	}

	events := Shell.Events(sid)
	if events == nil {
		events = []sshproxy.ConnectionEvent{}
	}
	status := sessionStatus{View: view, Events: events}
	if Registry != nil {
		if info, ok := Registry.Info(sid); ok {
			status.Connection = &connectionInfo{
				Target:      info.Target.String(),
				ConnectedAt: info.ConnectedAt,
				LastUsed:    info.LastUsed,
			}
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func writeView(w http.ResponseWriter, sid string) {
	view, err := Shell.View(sid)
	if err != nil {
		log.Printf("[handlers] load view: %v", err)
		writeError(w, http.StatusInternalServerError, "Could not load session")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetSessionAudit returns the current session's audit trail, newest first.
//
// Query parameters:
//
//	event_type - filter by event type
//	since      - RFC3339 lower bound
//	until      - RFC3339 upper bound
//	limit      - max entries to return (default 50, max 1000)
//	offset     - pagination offset
func GetSessionAudit(w http.ResponseWriter, r *http.Request) {
	auditor := sshaudit.GetAuditor()
	if auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit system not initialized")
		return
	}

	opts := sshaudit.QueryOptions{SessionID: middleware.GetSessionID(r)}
	if v := r.URL.Query().Get("event_type"); v != "" {
		opts.EventType = v
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since (expected RFC3339)")
			return
		}
		opts.Since = &t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until (expected RFC3339)")
			return
		}
		opts.Until = &t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = n
	}

	result, err := auditor.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
