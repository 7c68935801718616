package channel

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus registry and instrumentation for loops and
// channels. Metrics are optional: wire a shared instance into loops and
// channels via [WithMetrics]; without it, instrumentation is skipped
// entirely on the hot paths.
type Metrics struct {
	Registry *prometheus.Registry

	// TasksExecuted counts tasks executed across all instrumented loops,
	// including tasks that panicked.
	TasksExecuted prometheus.Counter

	// TaskPanics counts recovered task panics.
	TaskPanics prometheus.Counter

	// WritabilityChanges counts writability transitions by direction
	// ("writable" / "unwritable").
	WritabilityChanges *prometheus.CounterVec

	// ChannelsRegistered tracks the number of currently registered channels.
	ChannelsRegistered prometheus.Gauge

	// MessagesWritten counts messages enqueued to outbound buffers.
	MessagesWritten prometheus.Counter

	// BytesFlushed counts bytes fully handed to transports.
	BytesFlushed prometheus.Counter
}

// NewMetrics creates a private Prometheus registry with the standard channel
// runtime meters registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	tasksExecuted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "channel_loop_tasks_total",
		Help: "Total number of tasks executed by event loops.",
	})

	taskPanics := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "channel_loop_task_panics_total",
		Help: "Total number of recovered task panics.",
	})

	writabilityChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_writability_changes_total",
		Help: "Total number of channel writability transitions.",
	}, []string{"direction"})

	channelsRegistered := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "channel_registered",
		Help: "Number of channels currently registered with an event loop.",
	})

	messagesWritten := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "channel_messages_written_total",
		Help: "Total number of messages enqueued for write.",
	})

	bytesFlushed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "channel_bytes_flushed_total",
		Help: "Total bytes fully handed to transports.",
	})

	reg.MustRegister(tasksExecuted, taskPanics, writabilityChanges,
		channelsRegistered, messagesWritten, bytesFlushed)

	return &Metrics{
		Registry:           reg,
		TasksExecuted:      tasksExecuted,
		TaskPanics:         taskPanics,
		WritabilityChanges: writabilityChanges,
		ChannelsRegistered: channelsRegistered,
		MessagesWritten:    messagesWritten,
		BytesFlushed:       bytesFlushed,
	}
}
