package enforcer

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"time"
)

// errorPageTemplate renders the reason sentence for whichever state caused
// termination. Kept intentionally plain — this page has one job: tell
// whoever opens the now-dead protected port why it's dead.
var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>License Error</title></head>
<body style="font-family: sans-serif; max-width: 40em; margin: 4em auto;">
<h1>Service Unavailable</h1>
<p>{{.Sentence}}</p>
<p style="color: #888; font-size: 0.85em;">Reason code: {{.Reason}}</p>
</body>
</html>
`))

// ErrorPage is the static HTTP server that names the Enforcer's current
// reason code. It listens on its own port (enforcerd starts it at startup
// on LICENSE_ERROR_PAGE_PORT) and answers 503 in every state; it does not
// take over a protected service's port when the Enforcer terminates. Uses the same
// ListenAndServe/Shutdown shape as the Issuer's own HTTP server, trimmed to
// a single handler with no routing.
type ErrorPage struct {
	enforcer *Enforcer
	server   *http.Server
}

// NewErrorPage builds an ErrorPage server for e.
func NewErrorPage(e *Enforcer) *ErrorPage {
	return &ErrorPage{enforcer: e}
}

// ListenAndServe starts the error page on addr. It serves every request
// with the current reason and status 503, regardless of path, method or
// Enforcer state.
func (p *ErrorPage) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", p.handle)
	p.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return p.server.ListenAndServe()
}

// Shutdown gracefully shuts down the error page server.
func (p *ErrorPage) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

func (p *ErrorPage) handle(w http.ResponseWriter, r *http.Request) {
	_, reason := p.enforcer.State()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	data := struct {
		Sentence string
		Reason   string
	}{
		Sentence: ReasonSentence(reason),
		Reason:   reason,
	}
	if err := errorPageTemplate.Execute(w, data); err != nil {
		fmt.Fprintf(w, "service unavailable: %s", reason)
	}
}
