package observability

// Routing keys on the events exchange.
const (
	RoutingKeyWSEvents = "ws_events.chat"
	RoutingKeyMessages = "chat_events.messages"
	RoutingKeyAudit    = "audit_logs.chat"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
