package redis

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridetrack/internal/domain"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "tracking:booking-1", TrackingTopic("booking-1"))
	assert.Equal(t, "samples:booking-1", SampleStreamKey("booking-1"))
}

func TestDecodeSamples(t *testing.T) {
	messages := []redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{
			"payload": `{"driver_id":"d1","latitude":12.97,"longitude":77.59,"accuracy_meters":5,"captured_at_epoch_ms":100}`,
		}},
		{ID: "2-0", Values: map[string]interface{}{
			"payload": `{"driver_id":"d1","latitude":12.98,"longitude":77.6,"accuracy_meters":4,"heading_degrees":90,"captured_at_epoch_ms":105}`,
		}},
	}

	samples, err := decodeSamples(messages)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Nil(t, samples[0].HeadingDegrees)
	require.NotNil(t, samples[1].HeadingDegrees)
	assert.Equal(t, 90.0, *samples[1].HeadingDegrees)
	assert.Equal(t, int64(105), samples[1].CapturedAtEpochMs)
}

func TestDecodeSamples_MissingPayload(t *testing.T) {
	_, err := decodeSamples([]redis.XMessage{{ID: "1-0", Values: map[string]interface{}{"other": "x"}}})
	assert.Error(t, err)
}

func TestCachedDriver_PreservesDispatchFields(t *testing.T) {
	driver := &domain.Driver{
		ID:      "driver-1",
		Name:    "Asha",
		Status:  domain.DriverStatusOnline,
		Rating:  4.7,
		Vehicle: domain.Vehicle{Type: domain.VehicleTypeSUV, Capacity: 6},
	}

	assert.Equal(t, driver, NewCachedDriver(driver).Driver())
}
