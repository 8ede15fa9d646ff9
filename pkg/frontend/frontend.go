// Package frontend serves the dashboard
package frontend

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	static "github.com/ethpandaops/kpisim/frontend"
)

type handler struct {
	fileHandler http.Handler
	filesystem  fs.FS
}

// NewHandler creates the dashboard handler. Unknown paths fall back to index.html.
func NewHandler(cfg *Config) (http.Handler, error) {
	var (
		root fs.FS
		err  error
	)

	if cfg != nil && cfg.DocRoot != "" {
		root = os.DirFS(cfg.DocRoot)
	} else {
		root, err = fs.Sub(static.FS, "build")
		if err != nil {
			return nil, fmt.Errorf("failed to load frontend filesystem: %w", err)
		}
	}

	return &handler{
		filesystem:  root,
		fileHandler: http.FileServer(http.FS(root)),
	}, nil
}

func (h *handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, "/")
	if path == "" || h.fileExists(path) {
		h.fileHandler.ServeHTTP(w, req)
		return
	}

	req.URL.Path = "/"
	h.fileHandler.ServeHTTP(w, req)
}

func (h *handler) fileExists(path string) bool {
	_, err := fs.Stat(h.filesystem, path)
	return err == nil
}
