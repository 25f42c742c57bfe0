//go:build integration

package mint_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"signet/internal/mint"
	"signet/internal/platform/config"
	"signet/internal/platform/kafka"
	"signet/pkg/testutil/containers"
)

type KafkaMinterSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
	client   *kgo.Client
	topic    string
}

func TestKafkaMinterSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaMinterSuite))
}

func (s *KafkaMinterSuite) SetupSuite() {
	ctx := context.Background()
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
	s.topic = "signet.mints.test"

	cfg := config.KafkaConfig{Brokers: []string{s.redpanda.Broker}, Topic: s.topic}
	client, err := kafka.NewClient(ctx, cfg)
	s.Require().NoError(err)
	s.client = client
	s.Require().NoError(kafka.EnsureTopic(ctx, client, s.topic, 1, 1))
	// A second call must tolerate the existing topic.
	s.Require().NoError(kafka.EnsureTopic(ctx, client, s.topic, 1, 1))
}

func (s *KafkaMinterSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *KafkaMinterSuite) TestMintIsConsumable() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	minter := mint.NewKafkaMinter(s.client, s.topic, nil)
	s.Require().NoError(minter.Mint(ctx, "alice", "bafy-1", "mint-key-1"))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics(s.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	for {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "timed out waiting for mint record")
		var found *kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			if string(r.Key) == "bafy-1" {
				found = r
			}
		})
		if found == nil {
			continue
		}
		var req mint.Request
		s.Require().NoError(json.Unmarshal(found.Value, &req))
		s.Equal("alice", req.Recipient)
		s.Equal("bafy-1", req.DocumentRef)
		return
	}
}
