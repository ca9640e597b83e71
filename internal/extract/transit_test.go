package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadtlabor/wohnlage/internal/amenity"
	"github.com/stadtlabor/wohnlage/internal/geo"
	"github.com/stadtlabor/wohnlage/internal/model"
)

func stopIndex() *amenity.Index {
	return amenity.NewIndex(model.CategoryStop, []model.AmenityPoint{
		{Category: model.CategoryStop, Name: "Hauptbahnhof", StopID: "hbf", Coord: geo.Coord{Lat: 52.4001, Lon: 12.5575}},
		{Category: model.CategoryStop, Name: "Nicolaiplatz", StopID: "nico", Coord: geo.Coord{Lat: 52.4180, Lon: 12.5450}},
	})
}

func morning(t *testing.T) Window {
	t.Helper()
	w, err := ParseWindow("morning", "06:00-09:00")
	require.NoError(t, err)
	return w
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("morning", "06:00-09:00")
	require.NoError(t, err)
	assert.Equal(t, 360, w.Start)
	assert.Equal(t, 540, w.End)

	_, err = ParseWindow("bad", "09:00-06:00")
	assert.Error(t, err)
	_, err = ParseWindow("bad", "06:00")
	assert.Error(t, err)
}

func TestTransitFrequency_MedianHeadway(t *testing.T) {
	schedule := []model.Departure{
		{StopID: "hbf", Time: 6 * 60},
		{StopID: "hbf", Time: 6*60 + 30},
		{StopID: "hbf", Time: 7 * 60},
		{StopID: "hbf", Time: 8 * 60}, // one long gap; median stays 30
		{StopID: "hbf", Time: 22 * 60},
	}
	tf := NewTransitFrequency(stopIndex(), schedule, []Window{morning(t)}, "median")

	near := geo.Coord{Lat: 52.4005, Lon: 12.5570}
	res, err := tf.Extract(context.Background(), model.Address{ID: "a", Coord: &near})
	require.NoError(t, err)
	assert.Equal(t, model.Some(30), res.Values["stop_headway_morning_min"])
}

func TestTransitFrequency_TwoDeparturesIsThirtyMinutes(t *testing.T) {
	schedule := []model.Departure{
		{StopID: "hbf", Time: 6 * 60},
		{StopID: "hbf", Time: 6*60 + 30},
	}
	tf := NewTransitFrequency(stopIndex(), schedule, []Window{morning(t)}, "mean")

	near := geo.Coord{Lat: 52.4005, Lon: 12.5570}
	res, err := tf.Extract(context.Background(), model.Address{ID: "a", Coord: &near})
	require.NoError(t, err)
	assert.Equal(t, model.Some(30), res.Values["stop_headway_morning_min"])
}

func TestTransitFrequency_SingleDepartureIsMissing(t *testing.T) {
	schedule := []model.Departure{{StopID: "hbf", Time: 7 * 60}}
	tf := NewTransitFrequency(stopIndex(), schedule, []Window{morning(t)}, "median")

	near := geo.Coord{Lat: 52.4005, Lon: 12.5570}
	res, err := tf.Extract(context.Background(), model.Address{ID: "a", Coord: &near})
	require.NoError(t, err)
	assert.Equal(t, model.Missing(model.InsufficientSample), res.Values["stop_headway_morning_min"])
}

func TestTransitFrequency_ResolvesNearestStop(t *testing.T) {
	schedule := []model.Departure{
		{StopID: "nico", Time: 6 * 60},
		{StopID: "nico", Time: 6*60 + 10},
		{StopID: "hbf", Time: 6 * 60},
		{StopID: "hbf", Time: 7 * 60},
	}
	tf := NewTransitFrequency(stopIndex(), schedule, []Window{morning(t)}, "median")

	nearNico := geo.Coord{Lat: 52.4181, Lon: 12.5452}
	res, err := tf.Extract(context.Background(), model.Address{ID: "a", Coord: &nearNico})
	require.NoError(t, err)
	assert.Equal(t, model.Some(10), res.Values["stop_headway_morning_min"])
}

func TestTransitFrequency_NoStops(t *testing.T) {
	empty := amenity.NewIndex(model.CategoryStop, nil)
	tf := NewTransitFrequency(empty, nil, []Window{morning(t)}, "median")

	c := geo.Coord{Lat: 52.41, Lon: 12.55}
	res, err := tf.Extract(context.Background(), model.Address{ID: "a", Coord: &c})
	require.NoError(t, err)
	assert.Equal(t, model.Missing(model.MissingCriterion), res.Values["stop_headway_morning_min"])
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	tf := NewTransitFrequency(stopIndex(), nil, []Window{morning(t)}, "median")
	require.NoError(t, r.Register(tf))
	assert.Error(t, r.Register(tf))
}

func TestRegistry_RunWritesCriteria(t *testing.T) {
	r := NewRegistry()
	schedule := []model.Departure{
		{StopID: "hbf", Time: 6 * 60},
		{StopID: "hbf", Time: 6*60 + 20},
	}
	require.NoError(t, r.Register(NewTransitFrequency(stopIndex(), schedule, []Window{morning(t)}, "median")))

	near := geo.Coord{Lat: 52.4005, Lon: 12.5570}
	addrs := []model.Address{
		{ID: "a", Coord: &near},
		{ID: "b"}, // ungeocoded
	}
	require.NoError(t, r.Run(context.Background(), addrs, 4))

	assert.Equal(t, model.Some(20), addrs[0].Criteria["stop_headway_morning_min"])
	assert.Equal(t, model.Missing(model.MissingCoordinate), addrs[1].Criteria["stop_headway_morning_min"])
}
