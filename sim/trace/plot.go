package trace

import (
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// SavePNG renders a four-panel summary plot (BIS, MAP, CO, infusion rates
// over time in minutes) and writes it as a PNG.
func (tr *Trajectory) SavePNG(path string) error {
	if len(tr.rows) == 0 {
		return fmt.Errorf("trace: nothing to plot")
	}

	t := make([]float64, len(tr.rows))
	for i, r := range tr.rows {
		t[i] = r.Time / 60
	}

	panels := make([]*plot.Plot, 4)

	bis, err := linePlot("BIS", t, tr.BIS(), color.RGBA{B: 180, A: 255})
	if err != nil {
		return err
	}
	panels[0] = bis

	mapP, err := linePlot("MAP (mmHg)", t, tr.MAP(), color.RGBA{R: 180, A: 255})
	if err != nil {
		return err
	}
	panels[1] = mapP

	co, err := linePlot("CO (L/min)", t, tr.CO(), color.RGBA{G: 140, A: 255})
	if err != nil {
		return err
	}
	panels[2] = co

	rates := plot.New()
	rates.Title.Text = "Infusion rates"
	rates.X.Label.Text = "time (min)"
	lines := []struct {
		name string
		get  func(Row) float64
		col  color.RGBA
	}{
		{"propofol (mg/s)", func(r Row) float64 { return r.UPropo }, color.RGBA{B: 180, A: 255}},
		{"remifentanil (µg/s)", func(r Row) float64 { return r.URemi }, color.RGBA{R: 180, A: 255}},
		{"norepinephrine (µg/s)", func(r Row) float64 { return r.UNore }, color.RGBA{G: 140, A: 255}},
	}
	for _, l := range lines {
		ln, err := plotter.NewLine(xys(t, tr.column(l.get)))
		if err != nil {
			return fmt.Errorf("trace: plot %s: %w", l.name, err)
		}
		ln.Color = l.col
		rates.Add(ln)
		rates.Legend.Add(l.name, ln)
	}
	rates.Legend.Top = true
	panels[3] = rates

	const width, height = 8 * vg.Inch, 10 * vg.Inch
	img := vgimg.New(width, height)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 4, Cols: 1,
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Millimeter, PadBottom: vg.Millimeter,
		PadLeft: vg.Millimeter, PadRight: vg.Millimeter,
	}
	grid := make([][]*plot.Plot, 4)
	for i := range grid {
		grid[i] = []*plot.Plot{panels[i]}
	}
	canvases := plot.Align(grid, tiles, dc)
	for i, p := range panels {
		p.Draw(canvases[i][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("trace: create %s: %w", path, err)
	}
	defer f.Close()
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		return fmt.Errorf("trace: write png: %w", err)
	}
	return nil
}

func linePlot(name string, t, v []float64, col color.RGBA) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = name
	p.X.Label.Text = "time (min)"
	ln, err := plotter.NewLine(xys(t, v))
	if err != nil {
		return nil, fmt.Errorf("trace: plot %s: %w", name, err)
	}
	ln.Color = col
	p.Add(ln)
	return p, nil
}

func xys(t, v []float64) plotter.XYs {
	pts := make(plotter.XYs, len(t))
	for i := range t {
		pts[i].X = t[i]
		pts[i].Y = v[i]
	}
	return pts
}
