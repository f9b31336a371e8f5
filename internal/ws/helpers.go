package ws

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

func newConnID() string {
	return uuid.NewString()
}

// randomColor returns an avatar color such as "#3FA2C0".
func randomColor() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "#888888"
	}
	return fmt.Sprintf("#%02X%02X%02X", buf[0], buf[1], buf[2])
}

func traceIDFrom(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
