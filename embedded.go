package main

import (
	"embed"
	"html/template"
	"io/fs"
)

//go:embed templates/index.html
var embeddedFiles embed.FS

// parseTemplates loads the landing page bundled into the binary.
func parseTemplates() (*template.Template, error) {
	templates, err := fs.Sub(embeddedFiles, "templates")
	if err != nil {
		return nil, err
	}
	return template.ParseFS(templates, "index.html")
}
