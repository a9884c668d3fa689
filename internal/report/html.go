// Package report renders a pipeline run as charts: an interactive go-echarts
// HTML page and static gonum/plot PNGs.
package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/imm.demo/internal/filter"
	"github.com/banshee-data/imm.demo/internal/pipeline"
)

// Options tune the HTML page.
type Options struct {
	Title      string
	AssetsHost string // echarts asset prefix; empty uses the go-echarts CDN
	Width      string
	Height     string
}

func (o Options) withDefaults() Options {
	if o.Title == "" {
		o.Title = "IMM demo"
	}
	if o.Width == "" {
		o.Width = "900px"
	}
	if o.Height == "" {
		o.Height = "480px"
	}
	return o
}

func (o Options) init(title string) opts.Initialization {
	return opts.Initialization{PageTitle: o.Title, Width: o.Width, Height: o.Height, AssetsHost: o.AssetsHost, ChartID: title}
}

// WriteHTML renders the trajectory, error, coverage and (for the IMM) model
// probability charts of run as one HTML page.
func WriteHTML(w io.Writer, run *pipeline.Run, o Options) error {
	o = o.withDefaults()
	sum := run.Summary()

	page := components.NewPage()
	page.SetPageTitle(o.Title)
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.AddCharts(
		trajectoryChart(run, sum, o),
		errorChart(run, o),
		coverageChart(run, o),
	)
	if run.Config.FilterType == filter.TypeIMM {
		page.AddCharts(probabilityChart(run, o))
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report page: %w", err)
	}
	return nil
}

func trajectoryChart(run *pipeline.Run, sum pipeline.Summary, o Options) *charts.Scatter {
	truth := make([]opts.ScatterData, 0, len(run.Snapshots))
	meas := make([]opts.ScatterData, 0, len(run.Snapshots))
	est := make([]opts.ScatterData, 0, len(run.Snapshots))
	for _, s := range run.Snapshots {
		if finite(s.Truth[0]) && finite(s.Truth[1]) {
			truth = append(truth, opts.ScatterData{Value: []interface{}{s.Truth[0], s.Truth[1]}})
		}
		if s.Measurement != nil && finite(s.Measurement.Position[0]) && finite(s.Measurement.Position[1]) {
			meas = append(meas, opts.ScatterData{Value: []interface{}{s.Measurement.Position[0], s.Measurement.Position[1]}})
		}
		if s.Initialized && finite(s.State[filter.IdxPX]) && finite(s.State[filter.IdxPY]) {
			est = append(est, opts.ScatterData{Value: []interface{}{s.State[filter.IdxPX], s.State[filter.IdxPY]}})
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(o.init("trajectory")),
		charts.WithTitleOpts(opts.Title{
			Title:    "Trajectory",
			Subtitle: fmt.Sprintf("filter=%s ticks=%d rmse=%.2f coverage=%.1f%%", sum.Filter, sum.Ticks, sum.RMSE, 100*sum.Coverage),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Y (m)", NameLocation: "middle", NameGap: 40}),
	)
	scatter.AddSeries("truth", truth, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))
	scatter.AddSeries("measurements", meas, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("estimate", est, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	return scatter
}

func errorChart(run *pipeline.Run, o Options) *charts.Line {
	errs := make([]opts.LineData, len(run.Snapshots))
	bounds := make([]opts.LineData, len(run.Snapshots))
	for i, s := range run.Snapshots {
		errs[i] = lineValue(s.Initialized, s.Error)
		bounds[i] = lineValue(s.Initialized, s.ConfidenceBound)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(o.init("error")),
		charts.WithTitleOpts(opts.Title{Title: "Position error", Subtitle: fmt.Sprintf("chi-square gate %.3f", run.Threshold)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "m"}),
	)
	line.SetXAxis(timeAxis(run)).
		AddSeries("error", errs).
		AddSeries("confidence bound", bounds).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

func coverageChart(run *pipeline.Run, o Options) *charts.Line {
	cov := make([]opts.LineData, len(run.Snapshots))
	target := make([]opts.LineData, len(run.Snapshots))
	for i, s := range run.Snapshots {
		cov[i] = lineValue(s.Initialized, s.CoveragePct)
		target[i] = opts.LineData{Value: 0.95}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(o.init("coverage")),
		charts.WithTitleOpts(opts.Title{Title: "Coverage", Subtitle: fmt.Sprintf("hits=%d total=%d", run.Coverage.Hits, run.Coverage.Total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	line.SetXAxis(timeAxis(run)).
		AddSeries("coverage", cov).
		AddSeries("target", target).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

func probabilityChart(run *pipeline.Run, o Options) *charts.Line {
	slow := make([]opts.LineData, len(run.Snapshots))
	fast := make([]opts.LineData, len(run.Snapshots))
	for i, s := range run.Snapshots {
		ok := len(s.ModelProbabilities) == 2
		var p0, p1 float64
		if ok {
			p0, p1 = s.ModelProbabilities[0], s.ModelProbabilities[1]
		}
		slow[i] = lineValue(ok, p0)
		fast[i] = lineValue(ok, p1)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(o.init("probabilities")),
		charts.WithTitleOpts(opts.Title{Title: "Model probabilities"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	line.SetXAxis(timeAxis(run)).
		AddSeries("slow", slow).
		AddSeries("fast", fast).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

func timeAxis(run *pipeline.Run) []string {
	x := make([]string, len(run.Snapshots))
	for i, s := range run.Snapshots {
		x[i] = fmt.Sprintf("%.2f", s.Time)
	}
	return x
}

// lineValue leaves a gap in the series for ticks without a usable value.
func lineValue(ok bool, v float64) opts.LineData {
	if !ok || !finite(v) {
		return opts.LineData{Value: "-"}
	}
	return opts.LineData{Value: v}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
