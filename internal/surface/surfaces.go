package surface

import (
	"html/template"
	"io"
)

const containerTemplate = `<div id="{{.ContainerID}}" class="viewer-overlay" data-phase="{{.Phase}}" data-surface="{{surfaceName}}">
<header class="viewer-header">
<h2>{{.Title}}</h2>
{{- if .PageCount}}<span class="viewer-pages">{{.PageCount}} pages</span>{{end}}
<button type="button" class="viewer-close" hx-post="{{.CloseURL}}" hx-target="#{{.ContainerID}}" hx-swap="delete">Close</button>
</header>
{{- if .Loading}}
<div class="viewer-loading" hx-get="{{.PollURL}}" hx-trigger="every 1s" hx-target="#{{.ContainerID}}" hx-swap="outerHTML" aria-busy="true">Loading document...</div>
{{- else if .Failed}}
<div class="viewer-error" role="alert">
<p>{{.Message}}</p>
{{- if .RetryURL}}
<button type="button" class="viewer-retry" hx-post="{{.RetryURL}}" hx-target="#{{.ContainerID}}" hx-swap="outerHTML">Try again</button>
{{- end}}
{{- if .FallbackURL}}
<a class="viewer-fallback" href="{{.FallbackURL}}" target="_blank" rel="noopener">Open in a new tab</a>
{{- end}}
</div>
{{- else}}
{{template "surface" .}}
{{- end}}
</div>
`

const inlineFrameTemplate = `{{define "surface"}}<iframe id="{{.NodeID}}" class="viewer-frame" src="{{.DocumentURL}}" title="{{.Title}}"></iframe>
<a class="viewer-download" href="{{.DocumentURL}}" download="{{.Filename}}">Download</a>{{end}}`

const embedFallbackTemplate = `{{define "surface"}}<embed id="{{.NodeID}}" class="viewer-embed" src="{{.DocumentURL}}" type="application/pdf">
<a class="viewer-download viewer-download-primary" href="{{.DocumentURL}}" target="_blank" rel="noopener" download="{{.Filename}}">Open PDF</a>{{end}}`

const (
	InlineFrameName   = "inline-frame"
	EmbedFallbackName = "embed-fallback"
)

type templateSurface struct {
	name string
	tmpl *template.Template
}

func newTemplateSurface(name, surfaceDef string) templateSurface {
	t := template.Must(template.New("container").
		Funcs(template.FuncMap{"surfaceName": func() string { return name }}).
		Parse(containerTemplate))
	template.Must(t.Parse(surfaceDef))
	return templateSurface{name: name, tmpl: t}
}

func (s templateSurface) Name() string { return s.name }

func (s templateSurface) Render(w io.Writer, v View) error {
	return s.tmpl.ExecuteTemplate(w, "container", v)
}

// InlineFrameSurface shows the document in an <iframe>.
type InlineFrameSurface struct{ templateSurface }

func NewInlineFrameSurface() *InlineFrameSurface {
	return &InlineFrameSurface{newTemplateSurface(InlineFrameName, inlineFrameTemplate)}
}

// EmbedFallbackSurface uses <embed> plus an explicit open link, for platforms
// where inline frames do not display PDFs.
type EmbedFallbackSurface struct{ templateSurface }

func NewEmbedFallbackSurface() *EmbedFallbackSurface {
	return &EmbedFallbackSurface{newTemplateSurface(EmbedFallbackName, embedFallbackTemplate)}
}
