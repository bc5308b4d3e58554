// Package pages renders the HTML served to phones and resolves static assets.
package pages

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"mime"
	"os"
	"path"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page is a rendered document or asset ready to be written to a response.
type Page struct {
	Body        []byte
	ContentType string
}

const htmlContentType = "text/html; charset=utf-8"

// routes maps request paths to template names.
var routes = map[string]string{
	"/":         "chat.html",
	"/connect":  "connect.html",
	"/profile":  "profile.html",
	"/settings": "settings.html",
}

type pageData struct {
	Title   string
	URL     string
	Toggles []string
}

// Provider serves pre-rendered pages and files from an assets directory.
type Provider struct {
	pages  map[string]Page
	assets fs.FS
}

// Option customizes a Provider.
type Option func(*options)

type options struct {
	url    string
	assets fs.FS
}

// WithURL sets the address shown on the connect page.
func WithURL(url string) Option {
	return func(o *options) {
		o.url = url
	}
}

// WithAssets serves assets from fsys.
func WithAssets(fsys fs.FS) Option {
	return func(o *options) {
		o.assets = fsys
	}
}

// WithAssetsDir serves assets from dir on disk. An empty dir disables assets.
func WithAssetsDir(dir string) Option {
	return func(o *options) {
		if dir == "" {
			o.assets = nil
			return
		}
		o.assets = os.DirFS(dir)
	}
}

// New parses the embedded templates and renders every page once.
func New(opts ...Option) (*Provider, error) {
	o := options{url: "http://localhost:3000/"}
	for _, opt := range opts {
		opt(&o)
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	p := &Provider{
		pages:  make(map[string]Page, len(routes)),
		assets: o.assets,
	}
	for route, name := range routes {
		var buf bytes.Buffer
		data := pageData{
			Title:   "Alpha Chat",
			URL:     o.url,
			Toggles: []string{"darkMode", "soundEnabled", "notificationsEnabled"},
		}
		if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
			return nil, fmt.Errorf("rendering %s: %w", name, err)
		}
		p.pages[route] = Page{Body: buf.Bytes(), ContentType: htmlContentType}
	}
	return p, nil
}

// Page returns the document for route.
func (p *Provider) Page(route string) (Page, bool) {
	page, ok := p.pages[route]
	return page, ok
}

// Asset returns the named file from the assets directory. Names that are not
// valid slash-separated relative paths, such as ones containing "..", are
// rejected.
func (p *Provider) Asset(name string) (Page, bool) {
	if p.assets == nil || name == "" || !fs.ValidPath(name) {
		return Page{}, false
	}

	body, err := fs.ReadFile(p.assets, name)
	if err != nil {
		return Page{}, false
	}

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Page{Body: body, ContentType: contentType}, true
}
