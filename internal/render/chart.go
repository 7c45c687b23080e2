package render

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/signalsfoundry/terrain-visibility/core"
)

// ProfileChart renders terrain height and sight-line height against
// distance from the origin as an HTML page.
func ProfileChart(w io.Writer, title string, p core.Profile) error {
	if len(p.Samples) == 0 {
		return fmt.Errorf("%w: profile has no samples", core.ErrInvalidInput)
	}

	x := make([]string, len(p.Samples))
	terrain := make([]opts.LineData, len(p.Samples))
	sight := make([]opts.LineData, len(p.Samples))
	blocked := make([]opts.LineData, len(p.Samples))
	for i, s := range p.Samples {
		x[i] = fmt.Sprintf("%.0f", s.Elapsed)
		terrain[i] = opts.LineData{Value: s.Point.Height}
		sight[i] = opts.LineData{Value: s.Sight}
		if s.Flag == core.Occluded {
			blocked[i] = opts.LineData{Value: s.Point.Height}
		} else {
			blocked[i] = opts.LineData{Value: "-"}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "560px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("%s -> %s, %.0f m, visible %.0f m", p.Origin, p.Target, p.Length, p.VisibleLength()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "distance (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "height (m)", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).
		AddSeries("terrain", terrain).
		AddSeries("sight line", sight).
		AddSeries("occluded", blocked)

	return line.Render(w)
}
