// Package static serves files from the public directory for paths outside
// the API. Anything it cannot serve falls through to the next handler, so
// unknown paths still end in the API's 404 envelope.
package static

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

var ErrInvalidOptions = errors.New("static: invalid options")

type Options struct {
	// FS is the public directory, usually os.DirFS(dir).
	FS fs.FS
	// APIPrefix paths are never served from FS. Default "/api".
	APIPrefix string

	// Cache policies by file extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=86400"
	OtherCacheControl string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.APIPrefix == "" {
		o.APIPrefix = "/api"
	}
	o.APIPrefix = strings.TrimSuffix(o.APIPrefix, "/")
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=86400"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}

type Handler struct {
	opts Options
	next http.Handler
}

// Middleware returns the static stage. A nil FS yields a pass-through stage.
func Middleware(opts Options) (func(http.Handler) http.Handler, error) {
	if opts.FS == nil {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	opts.setDefaults()
	if _, err := fs.Stat(opts.FS, "."); err != nil {
		return nil, errors.Join(ErrInvalidOptions, err)
	}
	return func(next http.Handler) http.Handler {
		return &Handler{opts: opts, next: next}
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if (r.Method != http.MethodGet && r.Method != http.MethodHead) || h.isAPI(r.URL.Path) {
		h.next.ServeHTTP(w, r)
		return
	}
	file, ok := resolvePath(r.URL.Path, h.opts.FS)
	if !ok {
		h.next.ServeHTTP(w, r)
		return
	}
	if cc := cacheControlForFile(file, &h.opts); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	http.ServeFileFS(w, r, h.opts.FS, file)
}

func (h *Handler) isAPI(p string) bool {
	return p == h.opts.APIPrefix || strings.HasPrefix(p, h.opts.APIPrefix+"/")
}

// resolvePath maps a URL path to a regular file in fsys. Directory paths
// resolve to their index.html.
func resolvePath(urlPath string, fsys fs.FS) (string, bool) {
	p := urlPath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if strings.ContainsAny(p, "\x00\\") || hasDotSegments(p) {
		return "", false
	}

	clean := path.Clean(p)
	name := strings.TrimPrefix(clean, "/")
	if clean == "/" || strings.HasSuffix(p, "/") {
		name = path.Join(name, "index.html")
	}
	if !existsFile(fsys, name) {
		return "", false
	}
	return name, true
}

// hasDotSegments reports whether any path segment is "." or "..".
func hasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}

func cacheControlForFile(name string, o *Options) string {
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".html", "":
		return o.HTMLCacheControl
	case ".css", ".js", ".mjs",
		".png", ".jpg", ".jpeg", ".webp", ".gif", ".svg", ".ico",
		".woff", ".woff2", ".ttf", ".map":
		return o.AssetCacheControl
	default:
		return o.OtherCacheControl
	}
}
