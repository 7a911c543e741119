// Package render turns structured report content into a styled,
// self-contained HTML document and rasterizes it to PDF through a headless
// browser.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/prdigest/prdigest/internal/models"
)

var (
	// ErrBrowserLaunch means the headless browser could not be started.
	ErrBrowserLaunch = errors.New("headless browser failed to launch")
	// ErrRenderTimeout means the page did not finish loading within the
	// bounded wait.
	ErrRenderTimeout = errors.New("pdf rendering timed out")
)

// glyphTable maps presentation glyphs that models sprinkle into text onto
// plain typographic equivalents. Applied in order, identically on every
// render, so repeated renders of the same content are byte-identical.
var glyphTable = []struct{ from, to string }{
	{"✅", "✓"},
	{"❌", "✗"},
	{"⚠️", "!"},
	{"⚠", "!"},
	{"🔴", "●"},
	{"🟡", "●"},
	{"🟢", "●"},
	{"🎯", "●"},
	{"🚀", "▲"},
	{"📈", "▲"},
	{"📉", "▼"},
	{"🔧", "■"},
	{"📋", "■"},
	{"🔒", "■"},
	{"💡", "★"},
	{"⭐", "★"},
	{"🐛", "✗"},
}

func substituteGlyphs(s string) string {
	for _, g := range glyphTable {
		s = strings.ReplaceAll(s, g.from, g.to)
	}
	return s
}

// normalize applies the glyph table to every text field of the content.
func normalize(c models.ReportContent) models.ReportContent {
	out := models.ReportContent{
		Title:   substituteGlyphs(c.Title),
		Summary: substituteGlyphs(c.Summary),
	}
	for _, s := range c.Sections {
		sec := models.ReportSection{
			Title:   substituteGlyphs(s.Title),
			Content: substituteGlyphs(s.Content),
		}
		for _, item := range s.Items {
			sec.Items = append(sec.Items, substituteGlyphs(item))
		}
		out.Sections = append(out.Sections, sec)
	}
	for _, r := range c.Recommendations {
		out.Recommendations = append(out.Recommendations, substituteGlyphs(r))
	}
	for _, t := range c.TestScenarios {
		out.TestScenarios = append(out.TestScenarios, substituteGlyphs(t))
	}
	return out
}

const reportHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Content.Title}}</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; color: #1f2430; margin: 0; padding: 32px; }
  .header { border-bottom: 3px solid #3b5bdb; padding-bottom: 16px; margin-bottom: 24px; }
  .header h1 { margin: 0 0 8px; font-size: 26px; }
  .badge { display: inline-block; background: #3b5bdb; color: #fff; border-radius: 4px; padding: 3px 10px; font-size: 12px; text-transform: uppercase; letter-spacing: 0.05em; }
  .summary { background: #f1f3f9; border-left: 4px solid #3b5bdb; padding: 14px 18px; margin-bottom: 24px; line-height: 1.5; }
  .section { margin-bottom: 22px; }
  .section h2 { font-size: 18px; margin: 0 0 8px; color: #2b3a67; }
  .section p { margin: 0 0 8px; line-height: 1.55; }
  ul { margin: 6px 0 0; padding-left: 22px; }
  li { margin-bottom: 4px; line-height: 1.5; }
  .scenarios, .recommendations { background: #fafbfc; border: 1px solid #e3e6ec; border-radius: 6px; padding: 14px 18px; margin-bottom: 22px; }
  .scenarios h2, .recommendations h2 { font-size: 16px; margin: 0 0 10px; color: #2b3a67; }
</style>
</head>
<body>
<div class="header">
  <h1>{{.Content.Title}}</h1>
  <span class="badge">{{.Tag}}</span>
</div>
<div class="summary">{{.Content.Summary}}</div>
{{range .Content.Sections}}<div class="section">
  <h2>{{.Title}}</h2>
  <p>{{.Content}}</p>
  {{if .Items}}<ul>{{range .Items}}<li>{{.}}</li>{{end}}</ul>{{end}}
</div>
{{end}}{{if .Content.TestScenarios}}<div class="scenarios">
  <h2>Test Scenarios</h2>
  <ul>{{range .Content.TestScenarios}}<li>{{.}}</li>{{end}}</ul>
</div>
{{end}}{{if .Content.Recommendations}}<div class="recommendations">
  <h2>Recommendations</h2>
  <ul>{{range .Content.Recommendations}}<li>{{.}}</li>{{end}}</ul>
</div>
{{end}}</body>
</html>
`

var reportTemplate = template.Must(template.New("report").Parse(reportHTML))

// A4 page size in inches, 20px margins at CSS 96dpi.
const (
	pdfPaperWidth  = 8.27
	pdfPaperHeight = 11.69
	pdfMargin      = 20.0 / 96.0
)

const defaultRenderTimeout = 30 * time.Second

// Renderer writes report artifacts under a fixed directory.
type Renderer struct {
	dir        string
	chromePath string
	timeout    time.Duration
}

func New(dir, chromePath string) (*Renderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating reports directory: %w", err)
	}
	return &Renderer{dir: dir, chromePath: chromePath, timeout: defaultRenderTimeout}, nil
}

// HTML renders content to an HTML document string without touching disk.
func (r *Renderer) HTML(content models.ReportContent, tag string) (string, error) {
	var buf bytes.Buffer
	data := struct {
		Content models.ReportContent
		Tag     string
	}{normalize(content), tag}
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering html: %w", err)
	}
	return buf.String(), nil
}

func (r *Renderer) HTMLPath(reportID int64, tag string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%d-%s.html", reportID, tag))
}

func (r *Renderer) PDFPath(reportID int64, tag string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%d-%s.pdf", reportID, tag))
}

// WriteHTML renders content and persists it to {reportID}-{tag}.html.
func (r *Renderer) WriteHTML(reportID int64, tag string, content models.ReportContent) (string, error) {
	html, err := r.HTML(content, tag)
	if err != nil {
		return "", err
	}
	path := r.HTMLPath(reportID, tag)
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("writing html file: %w", err)
	}
	return path, nil
}

// RenderPDF loads the already-written HTML file in a headless browser and
// rasterizes it to {reportID}-{tag}.pdf. The HTML file must exist.
func (r *Renderer) RenderPDF(ctx context.Context, reportID int64, tag string) (string, error) {
	htmlPath, err := filepath.Abs(r.HTMLPath(reportID, tag))
	if err != nil {
		return "", fmt.Errorf("resolving html path: %w", err)
	}
	if _, err := os.Stat(htmlPath); err != nil {
		return "", fmt.Errorf("html artifact missing: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(r.chromePath),
		chromedp.Headless,
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, r.timeout)
	defer cancelTimeout()

	var pdf []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate("file://"+htmlPath),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(pdfPaperWidth).
				WithPaperHeight(pdfPaperHeight).
				WithMarginTop(pdfMargin).
				WithMarginBottom(pdfMargin).
				WithMarginLeft(pdfMargin).
				WithMarginRight(pdfMargin).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return "", fmt.Errorf("%w after %s", ErrRenderTimeout, r.timeout)
		case errors.Is(err, exec.ErrNotFound):
			return "", fmt.Errorf("%w: %v", ErrBrowserLaunch, err)
		default:
			return "", fmt.Errorf("rasterizing pdf: %w", err)
		}
	}

	pdfPath := r.PDFPath(reportID, tag)
	if err := os.WriteFile(pdfPath, pdf, 0o644); err != nil {
		return "", fmt.Errorf("writing pdf file: %w", err)
	}
	return pdfPath, nil
}
