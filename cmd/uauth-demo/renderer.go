package main

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/flosch/pongo2/v6"
	"github.com/labstack/echo/v4"
)

//go:embed templates/*
var TemplateFS embed.FS

// pongo2 template loader over an [fs.FS]. Template names are always relative to the root.
type fsLoader struct {
	fsys fs.FS
}

func (l fsLoader) Abs(base, name string) string {
	return path.Clean(name)
}

func (l fsLoader) Get(name string) (io.Reader, error) {
	b, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

type Renderer struct {
	TemplateSet *pongo2.TemplateSet
}

// NewRenderer loads templates from the embedded filesystem, or straight from disk in debug mode so edits show up without a rebuild.
func NewRenderer(dir string, fsys *embed.FS, debug bool) *Renderer {
	var src fs.FS
	if debug {
		src = os.DirFS(dir)
	} else {
		sub, err := fs.Sub(fsys, path.Clean(dir))
		if err != nil {
			panic(fmt.Sprintf("template dir %s: %s", dir, err))
		}
		src = sub
	}
	set := pongo2.NewSet("uauth-demo", fsLoader{fsys: src})
	set.Debug = debug
	return &Renderer{TemplateSet: set}
}

func (r *Renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	ctx := pongo2.Context{}
	switch d := data.(type) {
	case pongo2.Context:
		ctx = d
	case map[string]interface{}:
		ctx = pongo2.Context(d)
	case nil:
	default:
		return fmt.Errorf("unsupported template data type: %T", data)
	}
	ctx["requestPath"] = c.Request().URL.Path

	tmpl, err := r.TemplateSet.FromCache(name)
	if err != nil {
		return err
	}
	return tmpl.ExecuteWriter(ctx, w)
}
