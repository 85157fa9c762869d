package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys attached to feedgate metrics.
const (
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrAccount identifies the account whose session produced the signal.
	AttrAccount = attribute.Key("account")
	// AttrEventType annotates counters with the canonical event classification (e.g. PositionUpdate).
	AttrEventType = attribute.Key("event.type")
	// AttrNoticeKind labels session lifecycle and diagnostic notices.
	AttrNoticeKind = attribute.Key("notice.kind")
	// AttrResult records the outcome of an operation (success, dropped, ...).
	AttrResult = attribute.Key("result")
)

// NoticeAttributes returns attributes for notice counters.
func NoticeAttributes(environment, account, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrAccount.String(account),
		AttrNoticeKind.String(kind),
	}
}

// EventAttributes returns attributes for event counters.
func EventAttributes(environment, account, eventType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrAccount.String(account),
		AttrEventType.String(eventType),
	}
}

// DeliveryAttributes returns attributes for bus delivery metrics.
func DeliveryAttributes(environment, eventType, result string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrEventType.String(eventType),
	}
	if result != "" {
		attrs = append(attrs, AttrResult.String(result))
	}
	return attrs
}
