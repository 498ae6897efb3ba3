package realtime

// Status is the connection lifecycle state of a subscription.
type Status string

const (
	StatusConnecting Status = "CONNECTING"
	StatusConnected  Status = "CONNECTED"
	StatusUnstable   Status = "UNSTABLE"
	StatusClosed     Status = "CLOSED"
)
