package smartthings

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// statusFanOutLimit bounds how many status fetches run concurrently within
// one aggregation.
const statusFanOutLimit = 8

// ErrAllStatusFetchesFailed means every device in the matched set failed to
// report a status, so no aggregate could be computed.
var ErrAllStatusFetchesFailed = errors.New("smartthings: all device status fetches failed")

// DeviceReading is one successfully fetched (device, status) pair.
type DeviceReading struct {
	Device Device
	Value  AttributeValue
}

// DeviceFailure records a device whose status fetch failed. Failures never
// abandon the whole aggregation; they ride along in the result.
type DeviceFailure struct {
	Device Device
	Err    error
}

// Aggregate is the explicit partial-failure result of one fan-out: the
// matched room, the readings that succeeded, and the devices that failed.
type Aggregate struct {
	Room     Room
	Readings []DeviceReading
	Failures []DeviceFailure
}

// AverageValue is the arithmetic mean of the numeric readings, rounded to
// the nearest integer. Non-numeric readings are excluded. ok is false when
// no numeric reading was collected.
func (a *Aggregate) AverageValue() (avg int, ok bool) {
	var sum float64
	var n int
	for _, r := range a.Readings {
		if f, numeric := r.Value.Float(); numeric {
			sum += f
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return int(math.Round(sum / float64(n))), true
}

// Unit is the unit of the first collected reading.
func (a *Aggregate) Unit() string {
	if len(a.Readings) == 0 {
		return ""
	}
	return a.Readings[0].Value.Unit
}

// AggregateRoomReadings runs the room-query aggregation: locations (first
// one wins), the location's rooms (first case-insensitive substring match on
// roomName wins), devices filtered by capability and restricted to the
// matched room, then a concurrent status fan-out over those devices.
//
// Lookup misses return typed errors (*RoomNotFoundError, *NoDevicesError).
// Individual status failures are collected in the result; only when every
// fetch fails does the call return ErrAllStatusFetchesFailed.
func (c *Client) AggregateRoomReadings(ctx context.Context, token, roomName, capability string) (*Aggregate, error) {
	locations, err := c.Locations(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(locations) == 0 {
		return nil, errors.New("smartthings: account has no locations")
	}
	location := locations[0]

	rooms, err := c.Rooms(ctx, token, location.LocationID)
	if err != nil {
		return nil, err
	}
	room, ok := matchRoom(rooms, roomName)
	if !ok {
		return nil, &RoomNotFoundError{Room: roomName}
	}

	devices, err := c.Devices(ctx, token, location.LocationID, capability)
	if err != nil {
		return nil, err
	}
	var matched []Device
	for _, d := range devices {
		if d.RoomID == room.RoomID {
			matched = append(matched, d)
		}
	}
	if len(matched) == 0 {
		return nil, &NoDevicesError{Room: room.Name, Capability: capability}
	}

	agg := &Aggregate{Room: room}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusFanOutLimit)
	for _, device := range matched {
		g.Go(func() error {
			value, err := c.Status(gctx, token, device.DeviceID, capability)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				agg.Failures = append(agg.Failures, DeviceFailure{Device: device, Err: err})
				return nil
			}
			agg.Readings = append(agg.Readings, DeviceReading{Device: device, Value: value})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(agg.Readings) == 0 {
		return nil, ErrAllStatusFetchesFailed
	}
	return agg, nil
}

// Occupancy summarizes presence readings across a location.
type Occupancy struct {
	Location Location
	Present  int
	Total    int
	Failures []DeviceFailure
}

// CheckOccupancy fetches every presence-capable device in the account's
// first location and counts how many currently sense presence.
func (c *Client) CheckOccupancy(ctx context.Context, token string) (*Occupancy, error) {
	const capability = "presenceSensor"

	locations, err := c.Locations(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(locations) == 0 {
		return nil, errors.New("smartthings: account has no locations")
	}
	location := locations[0]

	devices, err := c.Devices(ctx, token, location.LocationID, capability)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, &NoDevicesError{Room: location.Name, Capability: capability}
	}

	occ := &Occupancy{Location: location, Total: len(devices)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusFanOutLimit)
	for _, device := range devices {
		g.Go(func() error {
			value, err := c.Status(gctx, token, device.DeviceID, capability)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				occ.Failures = append(occ.Failures, DeviceFailure{Device: device, Err: err})
				return nil
			}
			if text, ok := value.Text(); ok && text == "present" {
				occ.Present++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(occ.Failures) == occ.Total {
		return nil, ErrAllStatusFetchesFailed
	}
	return occ, nil
}

// matchRoom finds the first room whose name contains the requested name,
// case-insensitively.
func matchRoom(rooms []Room, name string) (Room, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Room{}, false
	}
	for _, r := range rooms {
		if strings.Contains(strings.ToLower(r.Name), needle) {
			return r, true
		}
	}
	return Room{}, false
}
