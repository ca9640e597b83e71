package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/stadtlabor/wohnlage/internal/amenity"
	"github.com/stadtlabor/wohnlage/internal/loader"
	"github.com/stadtlabor/wohnlage/internal/model"
)

// Window is a daily service window, in minutes after midnight.
type Window struct {
	Name  string
	Start int
	End   int
}

// ParseWindow parses "HH:MM-HH:MM" into a named window.
func ParseWindow(name, span string) (Window, error) {
	parts := strings.SplitN(span, "-", 2)
	if len(parts) != 2 {
		return Window{}, eris.Errorf("extract: invalid window %q", span)
	}
	start, err := loader.ParseClock(parts[0])
	if err != nil {
		return Window{}, eris.Wrapf(err, "extract: window %q", span)
	}
	end, err := loader.ParseClock(parts[1])
	if err != nil {
		return Window{}, eris.Wrapf(err, "extract: window %q", span)
	}
	if end <= start {
		return Window{}, eris.Errorf("extract: window %q ends before it starts", span)
	}
	return Window{Name: name, Start: start, End: end}, nil
}

// TransitFrequency extracts the service headway at the nearest stop
// for each configured window.
type TransitFrequency struct {
	stops *amenity.Index
	// departures maps stop id to sorted departure minutes.
	departures map[string][]int
	windows    []Window
	// statistic is "median" or "mean".
	statistic string
}

// NewTransitFrequency builds the extractor. Departures are grouped
// and sorted once here; direction is ignored since the headway of
// interest is any departure at the stop.
func NewTransitFrequency(stops *amenity.Index, schedule []model.Departure, windows []Window, statistic string) *TransitFrequency {
	byStop := make(map[string][]int)
	for _, dep := range schedule {
		byStop[dep.StopID] = append(byStop[dep.StopID], dep.Time)
	}
	for _, times := range byStop {
		sort.Ints(times)
	}
	return &TransitFrequency{
		stops:      stops,
		departures: byStop,
		windows:    windows,
		statistic:  statistic,
	}
}

func (t *TransitFrequency) Name() string {
	return "stop_headway"
}

func (t *TransitFrequency) criterion(w Window) string {
	return fmt.Sprintf("stop_headway_%s_min", w.Name)
}

func (t *TransitFrequency) Criteria() []model.Criterion {
	var out []model.Criterion
	for _, w := range t.windows {
		out = append(out, model.Criterion{
			Name:     t.criterion(w),
			Unit:     "min",
			Category: model.CategoryStop,
			Kind:     model.AggCustomIndex,
		})
	}
	return out
}

// Extract resolves the nearest stop and computes its headway per
// window. Fewer than two departures in a window means the headway is
// undefined, not zero or infinite.
func (t *TransitFrequency) Extract(_ context.Context, addr model.Address) (Result, error) {
	criteria := t.Criteria()

	if addr.Coord == nil {
		return missingAll(criteria, model.MissingCoordinate), nil
	}

	nearest, err := t.stops.Nearest(*addr.Coord, 1)
	if eris.Is(err, amenity.ErrNoAmenities) {
		return missingAll(criteria, model.MissingCriterion), nil
	}
	if err != nil {
		return Result{}, err
	}

	times := t.departures[nearest[0].Point.StopID]
	values := make(map[string]model.Value, len(t.windows))
	for _, w := range t.windows {
		values[t.criterion(w)] = headway(times, w, t.statistic)
	}
	return Result{Values: values}, nil
}

// headway computes the gap statistic over consecutive departures
// inside the window.
func headway(sortedTimes []int, w Window, statistic string) model.Value {
	var inWindow []int
	for _, t := range sortedTimes {
		if t >= w.Start && t <= w.End {
			inWindow = append(inWindow, t)
		}
	}
	if len(inWindow) < 2 {
		return model.Missing(model.InsufficientSample)
	}

	gaps := make([]float64, 0, len(inWindow)-1)
	for i := 1; i < len(inWindow); i++ {
		gaps = append(gaps, float64(inWindow[i]-inWindow[i-1]))
	}

	if statistic == "mean" {
		sum := 0.0
		for _, g := range gaps {
			sum += g
		}
		return model.Some(sum / float64(len(gaps)))
	}

	// Median, the default: robust against one long scheduling gap.
	sort.Float64s(gaps)
	mid := len(gaps) / 2
	if len(gaps)%2 == 1 {
		return model.Some(gaps[mid])
	}
	return model.Some((gaps[mid-1] + gaps[mid]) / 2)
}
