package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTracerIsNoopByDefault(t *testing.T) {
	require.NotNil(t, Tracer())
	_, span := StartWorkItem(context.Background(), "plc-1", "send_event")
	require.NotNil(t, span)
	span.End()
}

func TestEndPublishAcceptsNilError(t *testing.T) {
	_, span := StartPublish(context.Background(), "plc-1", 42)
	EndPublish(span, nil)
}

func TestEndPublishRecordsError(t *testing.T) {
	_, span := StartPublish(context.Background(), "plc-1", 42)
	EndPublish(span, errors.New("ack timed out"))
}

func TestInitNoopWhenDisabled(t *testing.T) {
	require.NoError(t, Init(context.Background(), Config{Enabled: false}))
	require.NoError(t, Shutdown(context.Background()))
}
