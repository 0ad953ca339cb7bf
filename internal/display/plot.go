package display

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/RMahshie/fetbench/pkg/models"
)

// ErrNotEnoughPoints is returned when fewer than two distinct swept values
// are available.
var ErrNotEnoughPoints = errors.New("at least two points are needed to plot")

// Quantity selects the plotted current.
type Quantity string

const (
	QuantityIDS Quantity = "ids"
	QuantityIG  Quantity = "ig"
)

// ParseQuantity accepts "ids" or "ig"; an empty string selects IDS.
func ParseQuantity(s string) (Quantity, error) {
	switch Quantity(strings.ToLower(s)) {
	case "", QuantityIDS:
		return QuantityIDS, nil
	case QuantityIG:
		return QuantityIG, nil
	default:
		return "", fmt.Errorf("unknown quantity %q", s)
	}
}

var palette = []drawing.Color{
	chart.ColorBlue,
	chart.ColorGreen,
	chart.ColorRed,
	chart.ColorOrange,
	chart.ColorCyan,
	chart.ColorAlternateGray,
}

// RenderPNG plots q against the swept voltage with one trace per held value.
func RenderPNG(w io.Writer, points []models.MeasurementPoint, q Quantity, width, height int) error {
	if len(points) < 2 {
		return ErrNotEnoughPoints
	}

	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	var order []float64
	traces := map[float64]*chart.ContinuousSeries{}
	for _, p := range points {
		s, ok := traces[p.FixedValue]
		if !ok {
			color := palette[len(order)%len(palette)]
			s = &chart.ContinuousSeries{
				Name: fmt.Sprintf("%s = %g V", heldLabel(p.Axis), p.FixedValue),
				Style: chart.Style{
					StrokeColor: color,
					StrokeWidth: 1.5,
					DotColor:    color,
					DotWidth:    2,
				},
			}
			traces[p.FixedValue] = s
			order = append(order, p.FixedValue)
		}
		y := p.IDS
		if q == QuantityIG {
			y = p.IG
		}
		s.XValues = append(s.XValues, p.SweptValue)
		s.YValues = append(s.YValues, y)
		minX, maxX = math.Min(minX, p.SweptValue), math.Max(maxX, p.SweptValue)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	if minX == maxX {
		return ErrNotEnoughPoints
	}

	series := make([]chart.Series, 0, len(order))
	for _, hold := range order {
		s := traces[hold]
		// A lone point still needs two values to render.
		if len(s.XValues) == 1 {
			s.XValues = append(s.XValues, s.XValues[0])
			s.YValues = append(s.YValues, s.YValues[0])
		}
		series = append(series, *s)
	}

	axis := points[0].Axis
	yName := "IDS (A)"
	if q == QuantityIG {
		yName = "IG (A)"
	}
	ch := chart.Chart{
		Title:      fmt.Sprintf("%s vs %s", strings.TrimSuffix(yName, " (A)"), axis),
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      chart.XAxis{Name: fmt.Sprintf("%s (V)", axis)},
		YAxis:      chart.YAxis{Name: yName},
		Series:     series,
	}
	if minY == maxY {
		pad := math.Max(math.Abs(minY)*0.1, 1e-12)
		ch.YAxis.Range = &chart.ContinuousRange{Min: minY - pad, Max: maxY + pad}
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	if err := ch.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	return nil
}

func heldLabel(swept models.Axis) string {
	if swept == models.AxisVG {
		return "VD"
	}
	return "VG"
}
