// Package metrics implements the in-process statistics engine.
//
// Request handlers and connection hooks feed measurement events into an
// [Engine] through [Engine.Record]. Recording never blocks: events go into a
// bounded queue and are dropped, and counted, when it is full.
//
//	engine := metrics.New(metrics.Options{Interval: time.Second, Logger: logger})
//	go engine.Run(ctx)
//
//	engine.Record(metrics.RequestStarted())
//	engine.Record(metrics.RequestCompleted("GET /api/users", 200, elapsed, n))
//
// # Intervals
//
// A single goroutine owns all aggregation state. On every tick it drains a
// bounded batch from the queue, folds it into the open interval, then freezes
// one [Snapshot] per [MeasurementType]. Events are attributed to the interval
// that is open when they are drained, not to the time they were recorded.
//
// # History
//
// Each measurement type keeps its closed snapshots in a fixed-size [Ring].
// [Engine.History] reads a range by logical index, where 0 is the oldest entry
// still retained.
//
// # Live feed
//
// Closed snapshots are published through a [Hub]. Every subscriber has its own
// bounded channel; when it falls behind, its oldest pending snapshot is
// discarded. Publishing never waits on a subscriber.
//
// # Malformed input
//
// Out of range values (negative durations, invalid status codes) are clamped
// to zero, counted and logged at a limited rate. Panics inside a tick are
// recovered so the loop keeps running.
package metrics
