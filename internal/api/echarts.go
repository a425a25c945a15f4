package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// showMonitorChart renders an HTML line chart of a session's smoothed
// ratio trace against the detection thresholds using go-echarts.
func (s *Server) showMonitorChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, err := s.resolveSessionID(r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusNotFound, "no sealed session available")
		return
	}

	snaps, err := s.store.Snapshots(r.Context(), id)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve snapshots: %v", err))
		return
	}
	if len(snaps) == 0 {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusNotFound, "no snapshots for session")
		return
	}

	start := snaps[0].At
	x := make([]string, 0, len(snaps))
	ear := make([]opts.LineData, 0, len(snaps))
	mar := make([]opts.LineData, 0, len(snaps))
	earTh := make([]opts.LineData, 0, len(snaps))
	marTh := make([]opts.LineData, 0, len(snaps))
	for _, sn := range snaps {
		x = append(x, fmt.Sprintf("%.1fs", sn.At.Sub(start).Seconds()))
		ear = append(ear, opts.LineData{Value: sn.SmoothedEAR})
		mar = append(mar, opts.LineData{Value: sn.SmoothedMAR})
		earTh = append(earTh, opts.LineData{Value: s.cfg.GetEARClosedThreshold()})
		marTh = append(marTh, opts.LineData{Value: s.cfg.GetMARYawnThreshold()})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Session Ratio Trace",
			Subtitle: fmt.Sprintf("%s (%s)", id, start.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("smoothed EAR", ear).
		AddSeries("smoothed MAR", mar).
		AddSeries("eye closed threshold", earTh).
		AddSeries("yawn threshold", marTh)

	page := components.NewPage()
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
