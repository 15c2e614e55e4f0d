package gps

import (
	"context"
	"testing"

	"carrent-backend/internal/apperr"
	"carrent-backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordLocation(ctx context.Context, carID int32, lat, lon float64) (*domain.TripTracking, error) {
	args := m.Called(ctx, carID, lat, lon)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TripTracking), args.Error(1)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestParseCarID(t *testing.T) {
	id, err := ParseCarID("cars/42/gps")
	require.NoError(t, err)
	assert.Equal(t, int32(42), id)

	for _, topic := range []string{"cars/x/gps", "cars/0/gps", "cars/42/location", "trucks/42/gps", "cars/42", "cars/99999999999/gps"} {
		_, err := ParseCarID(topic)
		assert.Error(t, err, topic)
	}
}

func TestSubscriber_HandleMessage(t *testing.T) {
	t.Run("Forwards report", func(t *testing.T) {
		rec := new(MockRecorder)
		rec.On("RecordLocation", mock.Anything, int32(7), 10.5, 106.25).Return(&domain.TripTracking{}, nil)

		s := NewSubscriber(Config{}, rec)
		s.HandleMessage(nil, fakeMessage{topic: "cars/7/gps", payload: []byte(`{"lat":10.5,"lon":106.25}`)})

		rec.AssertExpectations(t)
	})

	t.Run("Drops bad topic and payload", func(t *testing.T) {
		rec := new(MockRecorder)
		s := NewSubscriber(Config{}, rec)

		s.HandleMessage(nil, fakeMessage{topic: "cars/abc/gps", payload: []byte(`{"lat":1,"lon":1}`)})
		s.HandleMessage(nil, fakeMessage{topic: "cars/7/gps", payload: []byte(`not json`)})

		rec.AssertNotCalled(t, "RecordLocation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Rejected report does not panic", func(t *testing.T) {
		rec := new(MockRecorder)
		rec.On("RecordLocation", mock.Anything, int32(7), 91.0, 0.0).Return(nil, apperr.Validation("latitude out of range"))

		s := NewSubscriber(Config{}, rec)
		assert.NotPanics(t, func() {
			s.HandleMessage(nil, fakeMessage{topic: "cars/7/gps", payload: []byte(`{"lat":91,"lon":0}`)})
		})
		rec.AssertExpectations(t)
	})
}
