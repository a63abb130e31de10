package tracking

import (
	"context"
	"sync"

	"ridetrack/internal/domain"
	"ridetrack/internal/stream"
)

// DriverFeed is an in-process PositionSource. Positions pushed for a driver
// reach every session tracking that driver.
type DriverFeed struct {
	mu      sync.Mutex
	drivers map[string]*stream.Broadcaster[domain.LocationSample]
	buffer  int
}

// NewDriverFeed creates a DriverFeed whose listeners buffer up to buffer samples.
func NewDriverFeed(buffer int) *DriverFeed {
	return &DriverFeed{
		drivers: make(map[string]*stream.Broadcaster[domain.LocationSample]),
		buffer:  buffer,
	}
}

// Push delivers a sample to the listeners of its driver. Samples for drivers
// nobody tracks are discarded.
func (f *DriverFeed) Push(sample domain.LocationSample) {
	f.mu.Lock()
	b, ok := f.drivers[sample.DriverID]
	f.mu.Unlock()
	if ok {
		b.Publish(sample)
	}
}

// Start forwards the driver's samples to sink until stop is called or ctx ends.
func (f *DriverFeed) Start(ctx context.Context, driverID string, sink func(domain.LocationSample)) (func(), error) {
	f.mu.Lock()
	b, ok := f.drivers[driverID]
	if !ok {
		b = stream.NewBroadcaster[domain.LocationSample](f.buffer)
		f.drivers[driverID] = b
	}
	sub := b.Subscribe()
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case sample, ok := <-sub.C():
				if !ok {
					return
				}
				sink(sample)
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			sub.Close()
			<-done
			f.release(driverID, b)
		})
	}
	return stop, nil
}

func (f *DriverFeed) release(driverID string, b *stream.Broadcaster[domain.LocationSample]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.drivers[driverID] == b && b.Len() == 0 {
		delete(f.drivers, driverID)
	}
}

var _ PositionSource = (*DriverFeed)(nil)
