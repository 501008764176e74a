// Package render draws PNG charts of materialized record streams.
//
// Architecture:
//   - Every chart pulls its streams to completion with Stream.Collect
//   - A chart is a vertical stack of panels sharing the time axis
//   - Panels use configured device bounds for their Y axis when present
//   - The encoded image is returned only when every step succeeded
//
// Any failure is reported as an error wrapping models.ErrRender; caller
// errors such as an unknown device also keep models.ErrBadParameter in
// their chain.
package render

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/tejusbharadwaj/domotik/internal/config"
	"github.com/tejusbharadwaj/domotik/internal/models"
	"github.com/tejusbharadwaj/domotik/internal/stream"
)

// StandardPressure is the sea level reference pressure in hPa.
const StandardPressure = 1013.25

// PressureAtAltitude converts a sea level pressure to the pressure expected
// at altitude metres, using the barometric formula.
func PressureAtAltitude(p, altitude float64) float64 {
	return p * math.Pow(1-altitude/44330, 5.255)
}

// Options controls figure geometry and localisation.
type Options struct {
	// Altitude of the barometer in metres.
	Altitude float64
	// Location for tick labels. Defaults to time.Local.
	Location *time.Location
	// Width and Height of the figure. Default to 10x8 inches.
	Width, Height vg.Length
}

// Renderer builds charts from a stream source.
type Renderer struct {
	source  *stream.Source
	devices *config.Registry
	opts    Options
	logger  *logrus.Entry
}

// NewRenderer creates a Renderer. devices may be nil, in which case no
// configured bounds apply.
func NewRenderer(source *stream.Source, devices *config.Registry, opts Options, logger *logrus.Entry) *Renderer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Width <= 0 {
		opts.Width = 10 * vg.Inch
	}
	if opts.Height <= 0 {
		opts.Height = 8 * vg.Inch
	}
	if devices == nil {
		devices, _ = config.NewRegistry(nil)
	}
	return &Renderer{source: source, devices: devices, opts: opts, logger: logger}
}

// bounds is an optional fixed Y range.
type bounds struct {
	min, max float64
}

func boundsOf(min, max float64) *bounds {
	if min >= max {
		return nil
	}
	return &bounds{min: min, max: max}
}

type panel struct {
	title     string
	ylabel    string
	points    plotter.XYs
	bounds    *bounds
	reference *float64
}

// Linky draws instantaneous apparent power.
func (r *Renderer) Linky(ctx context.Context, w models.TimeWindow) ([]byte, error) {
	p, err := r.linkyPanel(ctx, w)
	if err != nil {
		return nil, r.fail("linky", w, err)
	}
	return r.draw("linky", w, "", p)
}

// Pressure draws atmospheric pressure with the standard pressure reference.
func (r *Renderer) Pressure(ctx context.Context, w models.TimeWindow) ([]byte, error) {
	p, err := r.pressurePanel(ctx, w)
	if err != nil {
		return nil, r.fail("pressure", w, err)
	}
	return r.draw("pressure", w, "", p)
}

// Overview draws pressure above Linky power.
func (r *Renderer) Overview(ctx context.Context, w models.TimeWindow) ([]byte, error) {
	pressure, err := r.pressurePanel(ctx, w)
	if err != nil {
		return nil, r.fail("overview", w, err)
	}
	linky, err := r.linkyPanel(ctx, w)
	if err != nil {
		return nil, r.fail("overview", w, err)
	}
	return r.draw("overview", w, "", pressure, linky)
}

// TemperatureHumidity draws humidity above temperature for one device.
func (r *Renderer) TemperatureHumidity(ctx context.Context, device string, w models.TimeWindow) ([]byte, error) {
	kind := models.TemperatureHumidity(device)
	dev, err := r.devices.Lookup(kind)
	if err != nil {
		return nil, r.fail(kind.String(), w, err)
	}
	records, err := r.collect(ctx, kind, w)
	if err != nil {
		return nil, r.fail(kind.String(), w, err)
	}

	humidity := make(plotter.XYs, 0, len(records))
	temperature := make(plotter.XYs, 0, len(records))
	for _, rec := range records {
		th, ok := rec.(models.TemperatureHumidityRecord)
		if !ok {
			return nil, r.fail(kind.String(), w, fmt.Errorf("unexpected record %T", rec))
		}
		x := float64(th.Timestamp.Unix())
		humidity = append(humidity, plotter.XY{X: x, Y: th.Humidity})
		temperature = append(temperature, plotter.XY{X: x, Y: th.Temperature})
	}

	return r.draw(kind.String(), w, device,
		panel{title: "Humidity", ylabel: "%RH", points: humidity, bounds: boundsOf(dev.HumidityMin, dev.HumidityMax)},
		panel{title: "Temperature", ylabel: "°C", points: temperature, bounds: boundsOf(dev.TemperatureMin, dev.TemperatureMax)},
	)
}

func (r *Renderer) linkyPanel(ctx context.Context, w models.TimeWindow) (panel, error) {
	records, err := r.collect(ctx, models.Linky(), w)
	if err != nil {
		return panel{}, err
	}
	points := make(plotter.XYs, 0, len(records))
	for _, rec := range records {
		l, ok := rec.(models.LinkyRecord)
		if !ok {
			return panel{}, fmt.Errorf("unexpected record %T", rec)
		}
		points = append(points, plotter.XY{X: float64(l.Timestamp.Unix()), Y: float64(l.Sinst)})
	}
	return panel{title: "Linky", ylabel: "VA", points: points}, nil
}

func (r *Renderer) pressurePanel(ctx context.Context, w models.TimeWindow) (panel, error) {
	records, err := r.collect(ctx, models.Pressure(), w)
	if err != nil {
		return panel{}, err
	}
	points := make(plotter.XYs, 0, len(records))
	for _, rec := range records {
		p, ok := rec.(models.PressureRecord)
		if !ok {
			return panel{}, fmt.Errorf("unexpected record %T", rec)
		}
		points = append(points, plotter.XY{X: float64(p.Timestamp.Unix()), Y: p.Pressure})
	}

	ref := PressureAtAltitude(StandardPressure, r.opts.Altitude)
	pn := panel{title: "Pressure", ylabel: "hPa", points: points, reference: &ref}
	if dev, ok := r.devices.Pressure(); ok {
		pn.bounds = boundsOf(
			PressureAtAltitude(dev.PressureMin, r.opts.Altitude),
			PressureAtAltitude(dev.PressureMax, r.opts.Altitude),
		)
	}
	return pn, nil
}

func (r *Renderer) collect(ctx context.Context, kind models.SensorKind, w models.TimeWindow) ([]models.Record, error) {
	s, err := r.source.Open(kind, w)
	if err != nil {
		return nil, err
	}
	return s.Collect(ctx)
}

func (r *Renderer) fail(chart string, w models.TimeWindow, err error) error {
	r.logger.WithFields(logrus.Fields{
		"chart":  chart,
		"window": w.String(),
	}).WithError(err).Warn("Chart rendering failed")
	return fmt.Errorf("%w: %s %s: %w", models.ErrRender, chart, w, err)
}

// draw lays out the panels top to bottom and encodes the figure. Panics from
// the plotting library are turned into errors.
func (r *Renderer) draw(chart string, w models.TimeWindow, title string, panels ...panel) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, r.fail(chart, w, fmt.Errorf("%v", rec))
		}
	}()

	plots := make([][]*plot.Plot, len(panels))
	for i, pn := range panels {
		p, err := r.newPlot(w, pn)
		if err != nil {
			return nil, r.fail(chart, w, err)
		}
		if i == 0 && title != "" {
			p.Title.Text = title + " - " + pn.title
		}
		plots[i] = []*plot.Plot{p}
	}

	img := vgimg.New(r.opts.Width, r.opts.Height)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      len(panels),
		Cols:      1,
		PadTop:    vg.Points(6),
		PadBottom: vg.Points(6),
		PadLeft:   vg.Points(6),
		PadRight:  vg.Points(12),
		PadY:      vg.Points(12),
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(&buf); err != nil {
		return nil, r.fail(chart, w, err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) newPlot(w models.TimeWindow, pn panel) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = pn.title
	p.Y.Label.Text = pn.ylabel
	p.X.Tick.Marker = DayTicker{Location: r.opts.Location}
	p.Add(plotter.NewGrid())

	if len(pn.points) > 0 {
		line, err := plotter.NewLine(pn.points)
		if err != nil {
			return nil, err
		}
		line.LineStyle.Width = vg.Points(1)
		p.Add(line)
	}
	if pn.reference != nil {
		ref := *pn.reference
		fn := plotter.NewFunction(func(float64) float64 { return ref })
		fn.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(fn)
	}

	// The X range is the requested window, not the data extent.
	p.X.Min = float64(w.Start.Unix())
	p.X.Max = float64(w.End.Unix())
	switch {
	case pn.bounds != nil:
		p.Y.Min, p.Y.Max = pn.bounds.min, pn.bounds.max
	case pn.reference != nil:
		p.Y.Min = math.Min(p.Y.Min, *pn.reference)
		p.Y.Max = math.Max(p.Y.Max, *pn.reference)
	}
	return p, nil
}
