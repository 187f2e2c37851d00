// Package remotecache implements the remote HTTP artifact cache service and
// client described in spec.md 4.4/6.
package remotecache

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/baserock/morph/pkg/cache"
)

var filenamePattern = regexp.MustCompile(`^[0-9a-f]{64}\.(chunk|stratum|system)\.[A-Za-z0-9._+-]+$`)

// Server exposes a *cache.Local over HTTP following the four routes of
// spec.md 6: GET/HEAD /1.0/artifacts, POST /1.0/artifacts, GET /1.0/fetch.
type Server struct {
	local        *cache.Local
	writeEnabled bool
	log          *logrus.Entry
	client       *Client // used only by the fetch route, to pull from another cache
}

// NewServer constructs a Server over local. writeEnabled gates the POST
// route, per spec.md 6's "only if --enable-writes".
func NewServer(local *cache.Local, writeEnabled bool, log *logrus.Entry) *Server {
	return &Server{local: local, writeEnabled: writeEnabled, log: log, client: NewClient("")}
}

// Handler returns the http.Handler implementing the remote cache routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/1.0/artifacts", s.handleArtifacts)
	mux.HandleFunc("/1.0/fetch", s.handleFetch)
	return mux
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		if !filenamePattern.MatchString(filename) {
			http.Error(w, "invalid filename", http.StatusBadRequest)
			return
		}
		key, kind, name, err := splitFilename(filename)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		has, err := s.local.Has(key, kind, name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !has {
			// A partial file in progress reports 409-Busy rather than 404,
			// per spec.md 6.
			if s.hasPartial(key, kind, name) {
				http.Error(w, "build in progress", http.StatusConflict)
				return
			}
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}

		rc, err := s.local.OpenForRead(key, kind, name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		io.Copy(w, rc)

	case http.MethodPost:
		if !s.writeEnabled {
			http.Error(w, "writes disabled", http.StatusForbidden)
			return
		}
		s.handleUpload(w, r)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("artifact")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !filenamePattern.MatchString(header.Filename) {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}
	key, kind, name, err := splitFilename(header.Filename)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	status, claim, err := s.local.Claim(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	switch status {
	case cache.StatusDone:
		w.WriteHeader(http.StatusOK)
		return
	case cache.StatusBusy:
		http.Error(w, "build in progress", http.StatusConflict)
		return
	}

	partial := claim.PartialArtifactPath(kind, name)
	out, err := os.Create(partial)
	if err != nil {
		claim.Abort(nil)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		claim.Abort([]string{partial})
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out.Close()

	logPath := claim.PartialBuildLogPath()
	os.WriteFile(logPath, []byte("uploaded via remote cache POST\n"), 0o644)

	err = claim.Commit(
		[]cache.ArtifactFile{{Kind: kind, Name: name, PartialPath: partial}},
		&cache.Meta{Key: key, Kind: kind, Name: name},
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// handleFetch composes caches: a worker cache that lacks a key can instruct
// itself to pull from the shared cache named by the url query parameter.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	upstream := r.URL.Query().Get("url")
	if upstream == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	resp, err := s.client.http.Get(upstream)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (s *Server) hasPartial(key string, kind cache.Kind, name string) bool {
	matches, _ := filepath.Glob(filepath.Join(s.local.Dir(), fmt.Sprintf("%s.%s.%s.partial", key, kind, name)))
	return len(matches) > 0
}

func splitFilename(filename string) (key string, kind cache.Kind, name string, err error) {
	m := filenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return "", "", "", fmt.Errorf("malformed filename %q", filename)
	}
	key = filename[:64]
	rest := filename[65:] // skip "<64hex>."
	kindStr := m[1]
	name = rest[len(kindStr)+1:]
	return key, cache.Kind(kindStr), name, nil
}
