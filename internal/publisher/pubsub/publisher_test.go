package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	publisher "github.com/JakeFAU/catalog-harvester/internal/publisher/pubsub"
)

func TestPublisherPublish(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)

	topic, err := client.CreateTopic(ctx, "harvester-events")
	require.NoError(t, err)

	pub := publisher.New(client, topic)
	id, err := pub.Publish(ctx, "asset.synchronized", map[string]string{"remoteAssetId": "R1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "asset.synchronized", msgs[0].Attributes["type"])
	var payload map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &payload))
	assert.Equal(t, "R1", payload["remoteAssetId"])

	require.NoError(t, pub.Close())
}

func TestPublisherWithoutTopic(t *testing.T) {
	_, err := publisher.New(nil, nil).Publish(context.Background(), "x", "y")
	assert.Error(t, err)
	assert.NoError(t, publisher.New(nil, nil).Close())
}

func TestDialRequiresTopic(t *testing.T) {
	_, err := publisher.Dial(context.Background(), publisher.Config{ProjectID: "p"})
	assert.Error(t, err)
}
