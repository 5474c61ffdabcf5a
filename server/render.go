package server

import (
	"embed"
	htmltemplate "html/template"
	"io"
	"text/template"
	"time"

	"edgemetrics/collector"
)

//go:embed templates/*
var templateFS embed.FS

var (
	metricsTmpl = template.Must(template.ParseFS(templateFS, "templates/metrics.tmpl"))
	indexTmpl   = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/index.html"))
)

type metricsView struct {
	collector.MetricsSnapshot
	Now int64
}

type indexView struct {
	collector.MetricsSnapshot
	RefreshedAt    string
	RefreshSeconds int
}

// RenderMetrics writes snap in text exposition format. now becomes the
// trailing "Current timestamp" comment, which differs from LastUpdate.
func RenderMetrics(w io.Writer, snap collector.MetricsSnapshot, now time.Time) error {
	return metricsTmpl.Execute(w, metricsView{
		MetricsSnapshot: snap,
		Now:             now.UnixMilli(),
	})
}

// RenderIndex writes the auto-refreshing HTML page.
func RenderIndex(w io.Writer, snap collector.MetricsSnapshot, now time.Time, refresh time.Duration) error {
	return indexTmpl.Execute(w, indexView{
		MetricsSnapshot: snap,
		RefreshedAt:     now.Format(time.TimeOnly),
		RefreshSeconds:  int(refresh / time.Second),
	})
}
