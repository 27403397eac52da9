// Package pubsubtest runs an in-process Pub/Sub server for tests.
package pubsubtest

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/hashicorp/go-multierror"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	ProjectID      = "logpipe-test"
	TopicID        = "log-ingestion"
	SubscriptionID = "log-processing"
)

// Server embeds a pstest server with a client, a default topic and a
// subscription on it.
type Server struct {
	*pstest.Server

	Client       *pubsub.Client
	Topic        *pubsub.Topic
	Subscription *pubsub.Subscription

	closers []func() error
}

// New starts the server and registers its shutdown with t.Cleanup.
func New(t testing.TB, ackDeadline time.Duration) *Server {
	t.Helper()
	ctx := context.Background()

	s := &Server{Server: pstest.NewServer()}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("closing pubsub test server: %v", err)
		}
	})

	conn, err := grpc.NewClient(s.Server.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dialing pstest: %v", err)
	}
	s.closers = append(s.closers, conn.Close)

	s.Client, err = pubsub.NewClient(ctx, ProjectID, option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("creating pubsub client: %v", err)
	}
	s.closers = append(s.closers, s.Client.Close)

	s.Topic, err = s.Client.CreateTopic(ctx, TopicID)
	if err != nil {
		t.Fatalf("creating topic: %v", err)
	}
	s.Subscription, err = s.Client.CreateSubscription(ctx, SubscriptionID, pubsub.SubscriptionConfig{
		Topic:       s.Topic,
		AckDeadline: ackDeadline,
	})
	if err != nil {
		t.Fatalf("creating subscription: %v", err)
	}
	return s
}

// Close closes the client, the connection and the server.
func (s *Server) Close() error {
	var result *multierror.Error
	if s.Topic != nil {
		s.Topic.Stop()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.closers = nil
	if s.Server != nil {
		if err := s.Server.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.Server = nil
	}
	return result.ErrorOrNil()
}
