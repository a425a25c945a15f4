package report

import (
	"context"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SaveRatioChart renders the session's snapshot trace (smoothed EAR and
// MAR with their thresholds) to a PNG at path.
func (b *Builder) SaveRatioChart(ctx context.Context, sessionID, path string) error {
	snaps, err := b.store.Snapshots(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return fmt.Errorf("no snapshots recorded for session %s", sessionID)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Session %s - Ratio Trace", sessionID)
	p.X.Label.Text = "Session time (s)"
	p.Y.Label.Text = "Ratio"

	start := snaps[0].At
	earPts := make(plotter.XYs, 0, len(snaps))
	marPts := make(plotter.XYs, 0, len(snaps))
	for _, sn := range snaps {
		x := sn.At.Sub(start).Seconds()
		earPts = append(earPts, plotter.XY{X: x, Y: sn.SmoothedEAR})
		marPts = append(marPts, plotter.XY{X: x, Y: sn.SmoothedMAR})
	}

	earLine, err := plotter.NewLine(earPts)
	if err != nil {
		return fmt.Errorf("ear line: %w", err)
	}
	earLine.Color = color.RGBA{B: 255, A: 255}
	p.Add(earLine)
	p.Legend.Add("smoothed EAR", earLine)

	marLine, err := plotter.NewLine(marPts)
	if err != nil {
		return fmt.Errorf("mar line: %w", err)
	}
	marLine.Color = color.RGBA{R: 255, A: 255}
	p.Add(marLine)
	p.Legend.Add("smoothed MAR", marLine)

	xMax := earPts[len(earPts)-1].X
	for _, th := range []struct {
		name  string
		value float64
		col   color.RGBA
	}{
		{"eye closed threshold", b.cfg.GetEARClosedThreshold(), color.RGBA{B: 255, G: 128, A: 255}},
		{"yawn threshold", b.cfg.GetMARYawnThreshold(), color.RGBA{R: 255, G: 128, A: 255}},
	} {
		line, err := plotter.NewLine(plotter.XYs{{X: 0, Y: th.value}, {X: xMax, Y: th.value}})
		if err != nil {
			return fmt.Errorf("%s line: %w", th.name, err)
		}
		line.Color = th.col
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(line)
		p.Legend.Add(th.name, line)
	}

	p.Legend.Top = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save ratio chart: %w", err)
	}
	return nil
}
