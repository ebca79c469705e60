package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	routingKey string
	env        EventEnvelope
	headers    map[string]string
}

func (c *capturePublisher) Publish(_ context.Context, routingKey string, env EventEnvelope, headers map[string]string) error {
	c.routingKey = routingKey
	c.env = env
	c.headers = headers
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func TestPublishEventRoutesThroughInstalledPublisher(t *testing.T) {
	capture := &capturePublisher{}
	SetPublisher(capture)
	defer SetPublisher(nil)

	err := PublishEvent(context.Background(), "sync_events.realtime", EventEnvelope{
		EventType: "sync_events",
		EventName: "ws_connect",
	}, map[string]string{"x-request-id": "r1"})
	require.NoError(t, err)

	assert.Equal(t, "sync_events.realtime", capture.routingKey)
	assert.Equal(t, "ws_connect", capture.env.EventName)
	assert.Equal(t, "r1", capture.headers["x-request-id"])
}

func TestPublishEventWithoutPublisherIsNoop(t *testing.T) {
	SetPublisher(nil)
	err := PublishEvent(context.Background(), "sync_events.sends", EventEnvelope{EventName: "send_failed"}, nil)
	assert.NoError(t, err)
}

func TestNewPublisherFallsBackToNoop(t *testing.T) {
	p := NewPublisher("", "sync_events")
	require.NotNil(t, p)

	assert.NoError(t, p.Publish(context.Background(), "sync_events.realtime", EventEnvelope{EventName: "ws_connect"}, nil))
	assert.NoError(t, p.Close())
}
