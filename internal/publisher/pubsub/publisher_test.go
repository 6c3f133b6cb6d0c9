package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, srv := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "campaigns")
	require.NoError(t, err)

	pub := NewWithClient(client, "campaigns")
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(ctx, "", map[string]any{"site_url": "https://a.example/", "status": "INDEXED"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "INDEXED", got["status"])
	require.Equal(t, "application/json", msgs[0].Attributes["content-type"])
}

func TestPublishMissingTopicFails(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t)
	pub := NewWithClient(client, "")
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Publish(context.Background(), "", "payload")
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "does-not-exist", "payload")
	require.Error(t, err)
}

func TestNewRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "", "campaigns")
	require.Error(t, err)
}

func TestNilPublisher(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.Publish(context.Background(), "campaigns", "x")
	require.Error(t, err)
}
