package experiment

import (
	"fmt"
	"image/color"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	_ "gonum.org/v1/plot/vg/vgimg" // png and jpeg writers
)

// PlotMargins saves overlaid histograms of held-in and held-out margins.
// The image format follows the extension of path (png, svg, pdf, ...).
func PlotMargins(r *Result, path string) error {
	in, out, err := Split(r.Masks, r.Margins)
	if err != nil {
		return err
	}
	p := plot.New()
	p.Title.Text = "Margins on the training split"
	p.X.Label.Text = "margin"
	p.Y.Label.Text = "examples"

	groups := []struct {
		name string
		vals []float64
		fill color.Color
	}{
		{"held-out", out, color.RGBA{R: 200, G: 80, B: 60, A: 140}},
		{"held-in", in, color.RGBA{R: 60, G: 110, B: 200, A: 140}},
	}
	for _, g := range groups {
		if len(g.vals) == 0 {
			continue
		}
		h, err := plotter.NewHist(plotter.Values(g.vals), 50)
		if err != nil {
			return errors.Wrapf(err, "%s histogram", g.name)
		}
		h.FillColor = g.fill
		p.Add(h)
		p.Legend.Add(fmt.Sprintf("%s (%d)", g.name, len(g.vals)), h)
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
