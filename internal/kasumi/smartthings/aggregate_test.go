package smartthings_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kasumi-bot/kasumi/internal/kasumi/smartthings"
)

// fakeAPI is a configurable in-memory SmartThings API.
type fakeAPI struct {
	locations string
	rooms     string
	devices   string
	// devicesByLocation, when set, serves the device list keyed by the
	// locationId query parameter instead of the flat devices list.
	devicesByLocation map[string]string
	// statuses maps device ID to the raw status JSON; absent devices 404.
	statuses map[string]string
}

func (f *fakeAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /locations", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, f.locations)
	})
	mux.HandleFunc("GET /locations/{id}/rooms", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, f.rooms)
	})
	mux.HandleFunc("GET /devices", func(w http.ResponseWriter, r *http.Request) {
		if f.devicesByLocation != nil {
			items, ok := f.devicesByLocation[r.URL.Query().Get("locationId")]
			if !ok {
				items = `{"items":[]}`
			}
			fmt.Fprint(w, items)
			return
		}
		fmt.Fprint(w, f.devices)
	})
	mux.HandleFunc("GET /devices/{id}/components/main/capabilities/{cap}/status", func(w http.ResponseWriter, r *http.Request) {
		status, ok := f.statuses[r.PathValue("id")]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, status)
	})
	return httptest.NewServer(mux)
}

func standardFixture() *fakeAPI {
	return &fakeAPI{
		locations: `{"items":[{"locationId":"loc-1","name":"Headquarters"}]}`,
		rooms:     `{"items":[{"roomId":"room-1","name":"Apollo Conference Room"},{"roomId":"room-2","name":"Kitchen"}]}`,
		devices: `{"items":[
			{"deviceId":"dev-1","label":"Sensor A","roomId":"room-1"},
			{"deviceId":"dev-2","label":"Sensor B","roomId":"room-1"},
			{"deviceId":"dev-3","label":"Sensor C","roomId":"room-2"}
		]}`,
		statuses: map[string]string{
			"dev-1": `{"temperature":{"value":20,"unit":"C"}}`,
			"dev-2": `{"temperature":{"value":22,"unit":"C"}}`,
			"dev-3": `{"temperature":{"value":99,"unit":"C"}}`,
		},
	}
}

func TestAggregateRoomReadings(t *testing.T) {
	srv := standardFixture().server(t)
	defer srv.Close()
	client := smartthings.NewClient(smartthings.WithBaseURL(srv.URL))

	agg, err := client.AggregateRoomReadings(context.Background(), "tok", "apollo", "temperatureMeasurement")
	if err != nil {
		t.Fatalf("AggregateRoomReadings: %v", err)
	}

	if agg.Room.Name != "Apollo Conference Room" {
		t.Fatalf("room = %q", agg.Room.Name)
	}
	// dev-3 sits in another room and must not be fetched.
	if len(agg.Readings) != 2 {
		t.Fatalf("readings = %d, want 2", len(agg.Readings))
	}
	avg, ok := agg.AverageValue()
	if !ok {
		t.Fatal("no numeric average")
	}
	if avg != 21 {
		t.Fatalf("average = %d, want 21", avg)
	}
	if agg.Unit() != "C" {
		t.Fatalf("unit = %q, want C", agg.Unit())
	}
	if len(agg.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", agg.Failures)
	}
}

func TestAverageRoundsToNearest(t *testing.T) {
	fixture := standardFixture()
	fixture.statuses["dev-1"] = `{"temperature":{"value":20.4,"unit":"C"}}`
	fixture.statuses["dev-2"] = `{"temperature":{"value":22.3,"unit":"C"}}`
	srv := fixture.server(t)
	defer srv.Close()
	client := smartthings.NewClient(smartthings.WithBaseURL(srv.URL))

	agg, err := client.AggregateRoomReadings(context.Background(), "tok", "Apollo", "temperatureMeasurement")
	if err != nil {
		t.Fatal(err)
	}
	// (20.4 + 22.3) / 2 = 21.35 -> 21
	if avg, _ := agg.AverageValue(); avg != 21 {
		t.Fatalf("average = %d, want 21", avg)
	}
}

func TestRoomNotFound(t *testing.T) {
	srv := standardFixture().server(t)
	defer srv.Close()
	client := smartthings.NewClient(smartthings.WithBaseURL(srv.URL))

	_, err := client.AggregateRoomReadings(context.Background(), "tok", "boiler room", "temperatureMeasurement")
	var notFound *smartthings.RoomNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want *RoomNotFoundError", err)
	}
	if notFound.Room != "boiler room" {
		t.Fatalf("room = %q", notFound.Room)
	}
}

func TestNoDevicesInRoom(t *testing.T) {
	fixture := standardFixture()
	fixture.devices = `{"items":[{"deviceId":"dev-3","label":"Sensor C","roomId":"room-2"}]}`
	srv := fixture.server(t)
	defer srv.Close()
	client := smartthings.NewClient(smartthings.WithBaseURL(srv.URL))

	_, err := client.AggregateRoomReadings(context.Background(), "tok", "Apollo", "temperatureMeasurement")
	var noDevices *smartthings.NoDevicesError
	if !errors.As(err, &noDevices) {
		t.Fatalf("err = %v, want *NoDevicesError (never a division by zero)", err)
	}
}

func TestPartialFailureStillAggregates(t *testing.T) {
	fixture := standardFixture()
	delete(fixture.statuses, "dev-2") // dev-2 will 404
	srv := fixture.server(t)
	defer srv.Close()
	client := smartthings.NewClient(smartthings.WithBaseURL(srv.URL))

	agg, err := client.AggregateRoomReadings(context.Background(), "tok", "Apollo", "temperatureMeasurement")
	if err != nil {
		t.Fatalf("partial failure must not abandon the aggregation: %v", err)
	}
	if len(agg.Readings) != 1 || len(agg.Failures) != 1 {
		t.Fatalf("readings = %d, failures = %d", len(agg.Readings), len(agg.Failures))
	}
	if agg.Failures[0].Device.DeviceID != "dev-2" {
		t.Fatalf("failed device = %q", agg.Failures[0].Device.DeviceID)
	}
	if avg, _ := agg.AverageValue(); avg != 20 {
		t.Fatalf("average = %d, want 20 (only dev-1)", avg)
	}
}

func TestAllFetchesFailed(t *testing.T) {
	fixture := standardFixture()
	fixture.statuses = map[string]string{}
	srv := fixture.server(t)
	defer srv.Close()
	client := smartthings.NewClient(smartthings.WithBaseURL(srv.URL))

	_, err := client.AggregateRoomReadings(context.Background(), "tok", "Apollo", "temperatureMeasurement")
	if !errors.Is(err, smartthings.ErrAllStatusFetchesFailed) {
		t.Fatalf("err = %v, want ErrAllStatusFetchesFailed", err)
	}
}

func TestCheckOccupancy(t *testing.T) {
	fixture := &fakeAPI{
		locations: `{"items":[{"locationId":"loc-1","name":"Headquarters"}]}`,
		devices: `{"items":[
			{"deviceId":"p-1","label":"Desk 1","roomId":"room-1"},
			{"deviceId":"p-2","label":"Desk 2","roomId":"room-1"},
			{"deviceId":"p-3","label":"Desk 3","roomId":"room-2"}
		]}`,
		statuses: map[string]string{
			"p-1": `{"presence":{"value":"present","unit":""}}`,
			"p-2": `{"presence":{"value":"not present","unit":""}}`,
			"p-3": `{"presence":{"value":"present","unit":""}}`,
		},
	}
	srv := fixture.server(t)
	defer srv.Close()
	client := smartthings.NewClient(smartthings.WithBaseURL(srv.URL))

	occ, err := client.CheckOccupancy(context.Background(), "tok")
	if err != nil {
		t.Fatalf("CheckOccupancy: %v", err)
	}
	if occ.Present != 2 || occ.Total != 3 {
		t.Fatalf("present = %d/%d, want 2/3", occ.Present, occ.Total)
	}
	if occ.Location.Name != "Headquarters" {
		t.Fatalf("location = %q", occ.Location.Name)
	}
}

func TestCheckOccupancyCountsOnlyFirstLocation(t *testing.T) {
	fixture := &fakeAPI{
		locations: `{"items":[{"locationId":"loc-1","name":"Headquarters"},{"locationId":"loc-2","name":"Warehouse"}]}`,
		devicesByLocation: map[string]string{
			"loc-1": `{"items":[
				{"deviceId":"p-1","label":"Desk 1","roomId":"room-1"},
				{"deviceId":"p-2","label":"Desk 2","roomId":"room-1"}
			]}`,
			"loc-2": `{"items":[{"deviceId":"p-9","label":"Dock","roomId":"room-9"}]}`,
		},
		statuses: map[string]string{
			"p-1": `{"presence":{"value":"not present","unit":""}}`,
			"p-2": `{"presence":{"value":"present","unit":""}}`,
			"p-9": `{"presence":{"value":"present","unit":""}}`,
		},
	}
	srv := fixture.server(t)
	defer srv.Close()
	client := smartthings.NewClient(smartthings.WithBaseURL(srv.URL))

	occ, err := client.CheckOccupancy(context.Background(), "tok")
	if err != nil {
		t.Fatalf("CheckOccupancy: %v", err)
	}
	// p-9 belongs to the second location and must not be counted.
	if occ.Present != 1 || occ.Total != 2 {
		t.Fatalf("present = %d/%d, want 1/2", occ.Present, occ.Total)
	}
	if occ.Location.Name != "Headquarters" {
		t.Fatalf("location = %q", occ.Location.Name)
	}
}

func TestTransientServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /locations", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"items":[{"locationId":"loc-1","name":"HQ"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := smartthings.NewClient(smartthings.WithBaseURL(srv.URL))
	locs, err := client.Locations(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Locations after retry: %v", err)
	}
	if len(locs) != 1 || locs[0].Name != "HQ" {
		t.Fatalf("locations = %+v", locs)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2 (one retry)", calls.Load())
	}
}
