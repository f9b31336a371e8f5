package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

type capturePublisher struct {
	routingKey string
	event      any
	headers    map[string]string
	err        error
}

func (p *capturePublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	p.routingKey, p.event, p.headers = routingKey, event, headers
	return p.err
}

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, "audit_logs.chat", "chat-relay", "test", nil)
	identity := "u1"

	emitter.Emit(context.Background(), "INFO", "audit test", "req-1", &identity)

	require.IsType(t, AuditEnvelope{}, pub.event)
	envelope := pub.event.(AuditEnvelope)
	assert.Equal(t, "audit_logs.chat", pub.routingKey)
	assert.Equal(t, "audit_log", envelope.EventType)
	assert.Equal(t, "chat-relay", envelope.Service)
	assert.Equal(t, "req-1", envelope.RequestID)
	assert.Equal(t, &identity, envelope.IdentityID)
	assert.Equal(t, AuditPayload{Level: "INFO", Text: "audit test"}, envelope.Payload)
	assert.Equal(t, "req-1", pub.headers["x-request-id"])
}

func TestAuditEmitterSwallowsPublishErrors(t *testing.T) {
	emitter := NewAuditEmitter(&capturePublisher{err: errors.New("down")}, "audit", "svc", "test", nil)
	assert.NotPanics(t, func() { emitter.Emit(context.Background(), "WARN", "x", "", nil) })

	var nilEmitter *AuditEmitter
	assert.NotPanics(t, func() { nilEmitter.Emit(context.Background(), "INFO", "x", "", nil) })
}

func TestSetupTracingWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{ServiceName: "chat-relay", Environment: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}
