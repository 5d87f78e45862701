package metrics

import "time"

// RegistryMetrics provides observability for the transport registry.
//
// Implementations are optional - the registry falls back to a no-op
// implementation when none is supplied.
type RegistryMetrics interface {
	// RecordInsert counts a successful registration in the given partition.
	RecordInsert(partition int)

	// RecordCollision counts an insert rejected because the descriptor was
	// already registered.
	RecordCollision(partition int)

	// RecordRemove counts an unlink from the given partition.
	RecordRemove(partition int)

	// SetRegistered updates the number of transports currently linked.
	SetRegistered(count int64)

	// ObserveScan records one full enumeration.
	//
	// Parameters:
	//   - duration: Wall time of the scan, including visitor time
	//   - visited: Number of visitor invocations
	//   - restarts: Partition restarts across the whole scan
	//   - incomplete: Number of partitions that exhausted their restart budget
	ObserveScan(duration time.Duration, visited, restarts, incomplete int)
}

// AdapterMetrics provides observability for the connection dispatcher.
type AdapterMetrics interface {
	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionRejected counts connections dropped at accept time.
	//
	// Parameters:
	//   - reason: "collision" or "rate_limited"
	RecordConnectionRejected(reason string)

	// RecordConnectionForceClosed counts connections closed after the
	// shutdown timeout expired.
	RecordConnectionForceClosed()

	// RecordConnectionsReaped counts idle connections closed by a sweep.
	RecordConnectionsReaped(count int)

	// RecordBytesTransferred records bytes read or written.
	//
	// Parameters:
	//   - direction: "read" or "write"
	//   - bytes: Number of bytes transferred
	RecordBytesTransferred(direction string, bytes int64)
}

// NewNoopRegistryMetrics returns a RegistryMetrics that records nothing.
func NewNoopRegistryMetrics() RegistryMetrics {
	return noopRegistryMetrics{}
}

// NewNoopAdapterMetrics returns an AdapterMetrics that records nothing.
func NewNoopAdapterMetrics() AdapterMetrics {
	return noopAdapterMetrics{}
}

type noopRegistryMetrics struct{}

func (noopRegistryMetrics) RecordInsert(int)                         {}
func (noopRegistryMetrics) RecordCollision(int)                      {}
func (noopRegistryMetrics) RecordRemove(int)                         {}
func (noopRegistryMetrics) SetRegistered(int64)                      {}
func (noopRegistryMetrics) ObserveScan(time.Duration, int, int, int) {}

type noopAdapterMetrics struct{}

func (noopAdapterMetrics) SetActiveConnections(int32)           {}
func (noopAdapterMetrics) RecordConnectionAccepted()            {}
func (noopAdapterMetrics) RecordConnectionClosed()              {}
func (noopAdapterMetrics) RecordConnectionRejected(string)      {}
func (noopAdapterMetrics) RecordConnectionForceClosed()         {}
func (noopAdapterMetrics) RecordConnectionsReaped(int)          {}
func (noopAdapterMetrics) RecordBytesTransferred(string, int64) {}
