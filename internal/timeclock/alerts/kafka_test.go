package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"timeclock/pkg/platform/circuit"
)

type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out kgo.ProduceResults
	for _, r := range rs {
		if f.err == nil {
			f.records = append(f.records, r)
		}
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

type KafkaPublisherSuite struct {
	suite.Suite
	producer *fakeProducer
}

func TestKafkaPublisherSuite(t *testing.T) {
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupTest() {
	s.producer = &fakeProducer{}
}

func sampleAlert() Alert {
	return Alert{
		Type:         TypeExcessiveLunch,
		Severity:     SeverityWarning,
		ApprenticeID: "appr-1",
		EntryID:      "e-1",
		Details:      map[string]any{"lunch_minutes": 75, "standard_minutes": 60},
		RaisedAt:     time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
	}
}

func (s *KafkaPublisherSuite) TestConstruction() {
	_, err := NewKafkaPublisher(nil, "alerts")
	s.ErrorContains(err, "producer is required")
	_, err = NewKafkaPublisher(s.producer, "")
	s.ErrorContains(err, "topic is required")
}

func (s *KafkaPublisherSuite) TestPublish() {
	p, err := NewKafkaPublisher(s.producer, "timeclock.alerts")
	s.Require().NoError(err)

	s.Require().NoError(p.Publish(context.Background(), sampleAlert()))
	s.Require().Len(s.producer.records, 1)

	rec := s.producer.records[0]
	s.Equal("timeclock.alerts", rec.Topic)
	s.Equal("appr-1", string(rec.Key))
	s.Equal("excessive_lunch", string(rec.Headers[0].Value))

	var decoded map[string]any
	s.Require().NoError(json.Unmarshal(rec.Value, &decoded))
	s.Equal("excessive_lunch", decoded["alert_type"])
	s.Equal("warning", decoded["severity"])
	s.Equal(float64(75), decoded["details"].(map[string]any)["lunch_minutes"])
}

func (s *KafkaPublisherSuite) TestBreakerOpensOnRepeatedFailures() {
	s.producer.err = errors.New("broker down")
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	breaker := circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return now }))
	p, err := NewKafkaPublisher(s.producer, "timeclock.alerts", WithBreaker(breaker))
	s.Require().NoError(err)

	s.Error(p.Publish(context.Background(), sampleAlert()))
	s.Error(p.Publish(context.Background(), sampleAlert()))
	s.ErrorIs(p.Publish(context.Background(), sampleAlert()), ErrCircuitOpen)

	s.producer.err = nil
	now = now.Add(2 * time.Minute)
	s.NoError(p.Publish(context.Background(), sampleAlert()))
	s.Equal(circuit.StateClosed, breaker.State())
}

func (s *KafkaPublisherSuite) TestMemoryPublisher() {
	m := NewMemoryPublisher()
	s.Require().NoError(m.Publish(context.Background(), sampleAlert()))
	a := sampleAlert()
	a.Type = TypeMissingLunch
	s.Require().NoError(m.Publish(context.Background(), a))

	s.Len(m.Alerts(), 2)
	s.Len(m.OfType(TypeMissingLunch), 1)
	s.Empty(m.OfType(TypeOutsideGeofence))
}
