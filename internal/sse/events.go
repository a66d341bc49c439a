package sse

const (
	EventConnected           = "connected"
	EventHeartbeat           = "heartbeat"
	EventLimitReached        = "LIMIT_REACHED"
	EventLimitReset          = "LIMIT_RESET"
	EventSubscriptionChanged = "SUBSCRIPTION_CHANGED"
	EventSettingsUpdated     = "SETTINGS_UPDATED"
	EventCacheCleared        = "CACHE_CLEARED"
)

type Event struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}
