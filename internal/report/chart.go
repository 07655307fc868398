package report

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"time"

	"peakload/internal/types"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Attachment name and size of the rendered trend chart.
const (
	PNGFilename    = "forecast_chart.png"
	PNGContentType = "image/png"

	chartWidth  = 10 * vg.Inch
	chartHeight = 5 * vg.Inch
)

// chartLine is one named series of the trend chart, X in Unix seconds.
type chartLine struct {
	name   string
	xys    plotter.XYs
	color  color.Color
	dashed bool
}

// chartLines converts the chart data into the four plotted lines. The
// capacity limit is drawn flat across every date in the chart.
func chartLines(c ChartData) ([]chartLine, error) {
	historical, err := pointXYs(c.Historical)
	if err != nil {
		return nil, err
	}
	predicted, err := pointXYs(c.Predicted)
	if err != nil {
		return nil, err
	}
	peak, err := pointXYs(c.PeakLoad)
	if err != nil {
		return nil, err
	}

	var all plotter.XYs
	all = append(all, historical...)
	all = append(all, predicted...)
	if len(all) == 0 {
		return nil, errors.New("chart has no data points")
	}
	xmin, xmax, _, _ := plotter.XYRange(all)
	limit := float64(c.CapacityLimit)

	return []chartLine{
		{name: "historical", xys: historical, color: color.RGBA{R: 31, G: 119, B: 180, A: 255}},
		{name: "predicted", xys: predicted, color: color.RGBA{R: 255, G: 127, B: 14, A: 255}},
		{name: "peak load", xys: peak, color: color.RGBA{R: 44, G: 160, B: 44, A: 255}},
		{name: "capacity limit", xys: plotter.XYs{{X: xmin, Y: limit}, {X: xmax, Y: limit}}, color: color.RGBA{R: 214, G: 39, B: 40, A: 255}, dashed: true},
	}, nil
}

func pointXYs(points []ChartPoint) (plotter.XYs, error) {
	xys := make(plotter.XYs, len(points))
	for i, p := range points {
		d, err := time.Parse(types.DateLayout, p.Date)
		if err != nil {
			return nil, fmt.Errorf("chart point %d: %w", i, err)
		}
		xys[i] = plotter.XY{X: float64(d.Unix()), Y: float64(p.Value)}
	}
	return xys, nil
}

// WritePNG renders the trend chart as a PNG image.
func WritePNG(w io.Writer, c ChartData) error {
	lines, err := chartLines(c)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "Outbound volume and peak load"
	p.X.Label.Text = "date"
	p.Y.Label.Text = "orders"
	p.X.Tick.Marker = plot.TimeTicks{Format: types.DateLayout}
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	for _, cl := range lines {
		if len(cl.xys) == 0 {
			continue
		}
		l, err := plotter.NewLine(cl.xys)
		if err != nil {
			return fmt.Errorf("%s line: %w", cl.name, err)
		}
		l.LineStyle.Color = cl.color
		l.LineStyle.Width = vg.Points(1.5)
		if cl.dashed {
			l.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
		}
		p.Add(l)
		p.Legend.Add(cl.name, l)
	}

	wt, err := p.WriterTo(chartWidth, chartHeight, "png")
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	return nil
}

// PNG renders the trend chart into memory.
func PNG(c ChartData) ([]byte, error) {
	var buf bytes.Buffer
	if err := WritePNG(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PNGAttachment renders the trend chart of result as a notification
// attachment.
func PNGAttachment(result *types.AdvisoryResult) (types.Attachment, error) {
	content, err := PNG(Chart(result))
	if err != nil {
		return types.Attachment{}, err
	}
	return types.Attachment{
		Filename:    PNGFilename,
		ContentType: PNGContentType,
		Content:     content,
	}, nil
}
