package model

// HealthStatus represents the health state of a treasury node
type HealthStatus struct {
	NodeID    string
	Status    NodeStatus
	Timestamp int64
	Checks    map[string]string
}

// NodeStatus defines the operational status of a node
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)
