//go:build integration

package alerts_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"timeclock/internal/platform/config"
	kafkaclient "timeclock/internal/platform/kafka"
	"timeclock/internal/timeclock/alerts"
	"timeclock/pkg/testutil/containers"
)

type KafkaPublisherSuite struct {
	suite.Suite
	kafka *containers.KafkaContainer
}

func TestKafkaPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupSuite() {
	s.kafka = containers.GetManager().GetKafka(s.T())
}

func (s *KafkaPublisherSuite) TestPublishedAlertIsConsumable() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	const topic = "timeclock.alerts.it"

	producer, err := kafkaclient.New(ctx, config.KafkaConfig{Brokers: s.kafka.Brokers, AlertsTopic: topic, ClientID: "timeclock-it"})
	s.Require().NoError(err)
	defer producer.Close()

	s.Require().NoError(kafkaclient.EnsureTopic(ctx, producer, topic, 1, 1))
	s.Require().NoError(kafkaclient.EnsureTopic(ctx, producer, topic, 1, 1), "existing topic is not an error")

	pub, err := alerts.NewKafkaPublisher(producer, topic)
	s.Require().NoError(err)
	raised := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(pub.Publish(ctx, alerts.Alert{
		Type:         alerts.TypeExcessiveLunch,
		Severity:     alerts.SeverityWarning,
		ApprenticeID: "appr-1",
		EntryID:      "entry-1",
		Details:      map[string]any{"lunch_minutes": 45, "standard_minutes": 30},
		RaisedAt:     raised,
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.kafka.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollRecords(ctx, 1)
	s.Require().NoError(fetches.Err())
	records := fetches.Records()
	s.Require().Len(records, 1)

	rec := records[0]
	s.Equal("appr-1", string(rec.Key))
	s.Require().Len(rec.Headers, 1)
	s.Equal("excessive_lunch", string(rec.Headers[0].Value))

	var got alerts.Alert
	s.Require().NoError(json.Unmarshal(rec.Value, &got))
	s.Equal(alerts.TypeExcessiveLunch, got.Type)
	s.Equal("entry-1", got.EntryID)
	s.True(got.RaisedAt.Equal(raised))
	s.EqualValues(45, got.Details["lunch_minutes"])
}
