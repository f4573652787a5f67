package web

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/guard"
)

// DecideFunc evaluates a view path for the caller. ok is false when no
// decision can be made, in which case the view is served.
type DecideFunc func(w http.ResponseWriter, r *http.Request) (d guard.Decision, ok bool)

// StaticHost serves the built bundle. Existing files are served as is; any
// other GET is a client-side route, checked with decide and answered with
// index.html. Paths under /api/ never reach the bundle.
type StaticHost struct {
	dir    string
	files  http.Handler
	decide DecideFunc
}

func NewStaticHost(dir string, decide DecideFunc) *StaticHost {
	return &StaticHost{
		dir:    dir,
		files:  http.FileServer(http.Dir(dir)),
		decide: decide,
	}
}

func (h *StaticHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isAPIPath(r.URL.Path) {
		writeError(w, http.StatusNotFound, "API route not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	clean := path.Clean("/" + r.URL.Path)
	if clean != "/" && h.isFile(clean) {
		h.files.ServeHTTP(w, r)
		return
	}

	if h.decide != nil {
		if d, ok := h.decide(w, r); ok && d.Outcome == guard.OutcomeRedirect && d.Location != clean {
			http.Redirect(w, r, d.Location, http.StatusFound)
			return
		}
	}
	h.serveIndex(w, r)
}

func (h *StaticHost) isFile(clean string) bool {
	fi, err := os.Stat(filepath.Join(h.dir, filepath.FromSlash(clean)))
	return err == nil && fi.Mode().IsRegular()
}

func (h *StaticHost) serveIndex(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(filepath.Join(h.dir, "index.html"))
	if err != nil {
		http.Error(w, "index.html not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		http.Error(w, "index.html not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, "index.html", fi.ModTime(), f)
}

func isAPIPath(p string) bool {
	return strings.HasPrefix(p, "/api/")
}
