// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Command attributes
	CommandClassKey     = "command.class"
	CommandChannelKey   = "command.channel"
	CommandOperationKey = "command.operation"
	CommandValueKey     = "command.value"
	CommandResultKey    = "command.result"

	// Event bus attributes
	EventNameKey      = "event.name"
	EventHandlersKey  = "event.handlers"
	EventCancelledKey = "event.cancelled"

	// Plugin attributes
	PluginKeyKey     = "plugin.key"
	PluginCommandKey = "plugin.command"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// CommandAttributes creates dispatcher span attributes.
func CommandAttributes(class, channel, operation string, value int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CommandClassKey, class),
		attribute.String(CommandChannelKey, channel),
		attribute.String(CommandOperationKey, operation),
		attribute.Int(CommandValueKey, value),
	}
}

// EventAttributes creates event emission span attributes.
func EventAttributes(name string, handlers int, cancelled bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(EventNameKey, name),
		attribute.Int(EventHandlersKey, handlers),
		attribute.Bool(EventCancelledKey, cancelled),
	}
}

// PluginAttributes creates plugin span attributes. Empty values are omitted.
func PluginAttributes(key, command string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if key != "" {
		attrs = append(attrs, attribute.String(PluginKeyKey, key))
	}
	if command != "" {
		attrs = append(attrs, attribute.String(PluginCommandKey, command))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
