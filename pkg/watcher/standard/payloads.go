// Package standard ships the composable watchers named in spec §4.6:
// a metric aggregator, a new-best detector, a checkpoint saver, and an
// ambient metric collector forwarding to Prometheus. Each is optional and
// wired into a watcher.Pool independently.
package standard

// MetricPayload is the payload carried by watcher.MetricNotification.
type MetricPayload struct {
	CommandUUID string
	Worker      string
	Round       int
	Epoch       int
	MetricType  string
	Value       float64
	IsAggregate bool
}

// CommandFinishedPayload is the payload carried by
// watcher.CommandFinishedNotification.
type CommandFinishedPayload struct {
	DistributionUUID string
	CommandUUID      string
}

// NewBestPayload is the payload carried by watcher.NewBestModelNotification.
type NewBestPayload struct {
	Key   string
	Value float64
	Split string
}
