package report

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/imm.demo/internal/filter"
	"github.com/banshee-data/imm.demo/internal/pipeline"
)

// Plot names accepted by RenderPNG.
const (
	PlotTrajectory    = "trajectory"
	PlotError         = "error"
	PlotProbabilities = "probabilities"
)

var (
	truthColour = color.RGBA{R: 80, G: 80, B: 80, A: 255}
	measColour  = color.RGBA{R: 230, G: 120, B: 40, A: 160}
	estColour   = color.RGBA{R: 30, G: 110, B: 200, A: 255}
	boundColour = color.RGBA{R: 200, G: 40, B: 40, A: 255}
)

// PlotNames lists the plots available for run.
func PlotNames(run *pipeline.Run) []string {
	names := []string{PlotTrajectory, PlotError}
	if run.Config.FilterType == filter.TypeIMM {
		names = append(names, PlotProbabilities)
	}
	return names
}

// RenderPNG draws one named plot of run and writes it to w as PNG.
func RenderPNG(w io.Writer, run *pipeline.Run, name string) error {
	p, err := buildPlot(run, name)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("encode %s plot: %w", name, err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write %s plot: %w", name, err)
	}
	return nil
}

// WritePNGs saves every plot of run as <dir>/<prefix>_<name>.png and returns
// the paths written.
func WritePNGs(dir, prefix string, run *pipeline.Run) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot directory: %w", err)
	}
	var paths []string
	for _, name := range PlotNames(run) {
		p, err := buildPlot(run, name)
		if err != nil {
			return paths, err
		}
		file := filepath.Join(dir, fmt.Sprintf("%s_%s.png", prefix, name))
		if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
			return paths, fmt.Errorf("save %s: %w", file, err)
		}
		paths = append(paths, file)
	}
	return paths, nil
}

func buildPlot(run *pipeline.Run, name string) (*plot.Plot, error) {
	switch name {
	case PlotTrajectory:
		return trajectoryPlot(run)
	case PlotError:
		return errorPlot(run)
	case PlotProbabilities:
		if run.Config.FilterType != filter.TypeIMM {
			return nil, fmt.Errorf("plot %q needs an imm run", name)
		}
		return probabilityPlot(run)
	default:
		return nil, fmt.Errorf("unknown plot %q", name)
	}
}

func trajectoryPlot(run *pipeline.Run) (*plot.Plot, error) {
	truth := make(plotter.XYs, 0, len(run.Snapshots))
	meas := make(plotter.XYs, 0, len(run.Snapshots))
	est := make(plotter.XYs, 0, len(run.Snapshots))
	for _, s := range run.Snapshots {
		if finite(s.Truth[0]) && finite(s.Truth[1]) {
			truth = append(truth, plotter.XY{X: s.Truth[0], Y: s.Truth[1]})
		}
		if s.Measurement != nil && finite(s.Measurement.Position[0]) && finite(s.Measurement.Position[1]) {
			meas = append(meas, plotter.XY{X: s.Measurement.Position[0], Y: s.Measurement.Position[1]})
		}
		if s.Initialized && finite(s.State[filter.IdxPX]) && finite(s.State[filter.IdxPY]) {
			est = append(est, plotter.XY{X: s.State[filter.IdxPX], Y: s.State[filter.IdxPY]})
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Trajectory (%s)", run.Config.FilterType)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	if len(meas) > 0 {
		sc, err := plotter.NewScatter(meas)
		if err != nil {
			return nil, fmt.Errorf("measurement scatter: %w", err)
		}
		sc.Color = measColour
		sc.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add("measurements", sc)
	}
	if err := addLine(p, "truth", truth, truthColour); err != nil {
		return nil, err
	}
	if err := addLine(p, "estimate", est, estColour); err != nil {
		return nil, err
	}
	legendTopRight(p)
	return p, nil
}

func errorPlot(run *pipeline.Run) (*plot.Plot, error) {
	errs := make(plotter.XYs, 0, len(run.Snapshots))
	bounds := make(plotter.XYs, 0, len(run.Snapshots))
	for _, s := range run.Snapshots {
		if !s.Initialized {
			continue
		}
		if finite(s.Error) {
			errs = append(errs, plotter.XY{X: s.Time, Y: s.Error})
		}
		if finite(s.ConfidenceBound) {
			bounds = append(bounds, plotter.XY{X: s.Time, Y: s.ConfidenceBound})
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Position error, coverage %.1f%%", 100*run.Coverage.Pct())
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Error (m)"
	p.Add(plotter.NewGrid())
	if err := addLine(p, "error", errs, estColour); err != nil {
		return nil, err
	}
	if err := addLine(p, "confidence bound", bounds, boundColour); err != nil {
		return nil, err
	}
	legendTopRight(p)
	return p, nil
}

func probabilityPlot(run *pipeline.Run) (*plot.Plot, error) {
	slow := make(plotter.XYs, 0, len(run.Snapshots))
	fast := make(plotter.XYs, 0, len(run.Snapshots))
	for _, s := range run.Snapshots {
		if len(s.ModelProbabilities) != 2 {
			continue
		}
		slow = append(slow, plotter.XY{X: s.Time, Y: s.ModelProbabilities[0]})
		fast = append(fast, plotter.XY{X: s.Time, Y: s.ModelProbabilities[1]})
	}

	p := plot.New()
	p.Title.Text = "Model probabilities"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "mu"
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())
	if err := addLine(p, "slow", slow, estColour); err != nil {
		return nil, err
	}
	if err := addLine(p, "fast", fast, boundColour); err != nil {
		return nil, err
	}
	legendTopRight(p)
	return p, nil
}

func addLine(p *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("%s line: %w", label, err)
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

func legendTopRight(p *plot.Plot) {
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
}
