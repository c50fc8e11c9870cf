package reports

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/tesouraria-igreja/tesouraria/web"
)

// Renderer turns a statement into a document.
type Renderer interface {
	Render(ctx context.Context, doc Document) ([]byte, error)
}

// Document is anything that knows which report template prints it.
type Document interface {
	Template() string
}

// PDFClient exposes the subset of the report client used by the renderer.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// PDFRenderer executes the embedded report templates and converts the HTML to PDF.
type PDFRenderer struct {
	tpl    *template.Template
	client PDFClient
}

// NewPDFRenderer parses the report templates and wires the PDF client.
func NewPDFRenderer(client PDFClient) (*PDFRenderer, error) {
	if client == nil {
		return nil, fmt.Errorf("reports renderer: pdf client required")
	}
	tpl, err := template.New("reports").Funcs(funcMap()).ParseFS(web.Templates, "templates/reports/*.html")
	if err != nil {
		return nil, err
	}
	return &PDFRenderer{tpl: tpl, client: client}, nil
}

// HTML executes the template of doc without converting it.
func (r *PDFRenderer) HTML(doc Document) (string, error) {
	if r == nil || r.tpl == nil {
		return "", fmt.Errorf("reports renderer not initialised")
	}
	buf := &bytes.Buffer{}
	if err := r.tpl.ExecuteTemplate(buf, doc.Template(), doc); err != nil {
		return "", fmt.Errorf("reports: execute %s: %w", doc.Template(), err)
	}
	return buf.String(), nil
}

// Render implements Renderer.
func (r *PDFRenderer) Render(ctx context.Context, doc Document) ([]byte, error) {
	html, err := r.HTML(doc)
	if err != nil {
		return nil, err
	}
	pdf, err := r.client.RenderHTML(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("reports: convert %s: %w", doc.Template(), err)
	}
	return pdf, nil
}
