package model

// WebSocket message types
const (
	WSMessageTypeSubscribeBuild     = "subscribe:build"
	WSMessageTypeSubscribeProject   = "subscribe:project"
	WSMessageTypeUnsubscribeBuild   = "unsubscribe:build"
	WSMessageTypeUnsubscribeProject = "unsubscribe:project"
	WSMessageTypeSubscribed         = "subscribed"
	WSMessageTypeUnsubscribed       = "unsubscribed"
	WSMessageTypeBuildUpdate        = "build:update"
	WSMessageTypeProjectUpdate      = "project:update"
	WSMessageTypeError              = "error"
	WSMessageTypePing               = "ping"
	WSMessageTypePong               = "pong"
)

// WebSocket error codes, shared with the REST envelope
const (
	WSErrorCodeValidation   = "VALIDATION_ERROR"
	WSErrorCodeNotFound     = "NOT_FOUND"
	WSErrorCodeServiceError = "SERVICE_ERROR"
)

// WSMessage represents an inbound client message
type WSMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// WSUpdateMessage carries the full current snapshot of a build or project
type WSUpdateMessage struct {
	Type string      `json:"type"`
	ID   string      `json:"id"`
	Data interface{} `json:"data"`
}

// WSAckMessage acknowledges a subscription change
type WSAckMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
	ID   string `json:"id"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	ID    string  `json:"id,omitempty"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
