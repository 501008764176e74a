// Package window derives the time window of a request from its optional
// start and end bounds.
package window

import (
	"net/url"
	"strconv"
	"time"

	"github.com/tejusbharadwaj/domotik/internal/models"
)

// Bound is one optional window bound as supplied by the caller. A bound that
// is present must parse, even when its value is empty.
type Bound struct {
	Value   string
	Present bool
}

// Param returns the named query parameter as a Bound.
func Param(q url.Values, name string) Bound {
	return Bound{Value: q.Get(name), Present: q.Has(name)}
}

// At is a present bound holding v.
func At(v string) Bound {
	return Bound{Value: v, Present: true}
}

// Resolver turns caller-supplied epoch-second bounds into a TimeWindow.
type Resolver struct {
	// Now supplies the default end bound. Defaults to time.Now.
	Now func() time.Time
	// RejectInverted makes start > end a bad parameter instead of an empty window.
	RejectInverted bool
}

// NewResolver returns a Resolver using the wall clock.
func NewResolver(rejectInverted bool) *Resolver {
	return &Resolver{Now: time.Now, RejectInverted: rejectInverted}
}

// Resolve validates the bounds. An absent start defaults to the epoch, an
// absent end to now.
func (r *Resolver) Resolve(start, end Bound) (models.TimeWindow, error) {
	from, err := parseBound("start", start, 0)
	if err != nil {
		return models.TimeWindow{}, err
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	to, err := parseBound("end", end, now().Unix())
	if err != nil {
		return models.TimeWindow{}, err
	}

	w := models.TimeWindow{Start: time.Unix(from, 0), End: time.Unix(to, 0)}
	if r.RejectInverted && w.Inverted() {
		return models.TimeWindow{}, models.NewParamError("start", "must not be after end")
	}
	return w, nil
}

// FromQuery resolves the start and end parameters of q.
func (r *Resolver) FromQuery(q url.Values) (models.TimeWindow, error) {
	return r.Resolve(Param(q, "start"), Param(q, "end"))
}

// FromQuerySpan is FromQuery with ResolveSpan defaults.
func (r *Resolver) FromQuerySpan(q url.Values, span time.Duration) (models.TimeWindow, error) {
	return r.ResolveSpan(Param(q, "start"), Param(q, "end"), span)
}

// ResolveSpan is Resolve with a relative default start: when start is absent
// the window covers the last span before end.
func (r *Resolver) ResolveSpan(start, end Bound, span time.Duration) (models.TimeWindow, error) {
	w, err := r.Resolve(start, end)
	if err != nil {
		return w, err
	}
	if !start.Present && span > 0 {
		w.Start = w.End.Add(-span)
	}
	return w, nil
}

func parseBound(name string, b Bound, def int64) (int64, error) {
	if !b.Present {
		return def, nil
	}
	v, err := strconv.ParseInt(b.Value, 10, 64)
	if err != nil {
		return 0, models.NewParamError(name, "bad parameter")
	}
	return v, nil
}
