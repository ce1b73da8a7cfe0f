//go:build integration

package docstore_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/illmade-knight/captionflow/pkg/docstore"
	"github.com/illmade-knight/captionflow/pkg/notify"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testFirestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	testFirestoreEmulatorPort  = "8080/tcp"
	testProjectID              = "test-project-captions"
	testCollection             = "captions"
)

func setupFirestoreEmulator(t *testing.T, ctx context.Context) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        testFirestoreEmulatorImage,
		ExposedPorts: []string{testFirestoreEmulatorPort},
		Cmd: []string{"gcloud", "beta", "emulators", "firestore", "start",
			fmt.Sprintf("--project=%s", testProjectID),
			fmt.Sprintf("--host-port=0.0.0.0:%s", strings.Split(testFirestoreEmulatorPort, "/")[0])},
		WaitingFor: wait.ForLog("Dev App Server is now running").WithStartupTimeout(90 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err, "Failed to start Firestore emulator")
	t.Cleanup(func() { require.NoError(t, container.Terminate(context.Background())) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, testFirestoreEmulatorPort)
	require.NoError(t, err)
	t.Setenv("FIRESTORE_EMULATOR_HOST", fmt.Sprintf("%s:%s", host, port.Port()))
}

func TestFirestoreWriterAndChangeFeed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	setupFirestoreEmulator(t, ctx)

	logger := zerolog.New(zerolog.NewTestWriter(t))
	client, err := docstore.NewClient(ctx, docstore.Config{ProjectID: testProjectID}, logger)
	require.NoError(t, err)
	defer client.Close()

	writer, err := docstore.NewFirestoreWriter(client, testCollection, logger)
	require.NoError(t, err)

	// Present before the feed opens, so it is skipped.
	require.NoError(t, writer.WriteAnnotation(ctx, "old", &types.AnnotationRecord{SourceURL: "https://x/old.png", Description: "old", Confidence: 0.1}))

	feed, err := docstore.NewFirestoreChangeFeed(ctx, client, docstore.ChangeFeedConfig{
		Collection: testCollection,
		FeedName:   "notify-test",
		Owner:      "test-instance",
	}, logger)
	require.NoError(t, err)
	defer feed.Close()
	select {
	case <-feed.Ready():
	case <-time.After(30 * time.Second):
		t.Fatal("change feed did not receive its initial snapshot")
	}

	rec := &types.AnnotationRecord{SourceURL: "https://x/img.png", Description: "a cat", Confidence: 0.92}
	require.NoError(t, writer.WriteAnnotation(ctx, "doc-1", rec))
	// Redelivery of the same event.
	require.NoError(t, writer.WriteAnnotation(ctx, "doc-1", &types.AnnotationRecord{SourceURL: "https://x/img.png", Description: "changed", Confidence: 0.1}))

	nextCtx, nextCancel := context.WithTimeout(ctx, 30*time.Second)
	defer nextCancel()
	batch, err := feed.Next(nextCtx)
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())
	assert.Equal(t, "doc-1", batch.Documents[0].ID)
	assert.Equal(t, "a cat", batch.Documents[0].Fields["description"])

	msg, err := notify.BuildBroadcast(batch)
	require.NoError(t, err)
	require.Len(t, msg.Arguments, 1)
	assert.JSONEq(t, `{"id":"doc-1","image_url":"https://x/img.png","description":"a cat","confidence":0.92}`, msg.Arguments[0])

	require.NoError(t, feed.Checkpoint(ctx, batch))
	cp, err := feed.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "test-instance", cp.Owner)
	assert.EqualValues(t, 1, cp.Batches)
	assert.EqualValues(t, 1, cp.Documents)
}
