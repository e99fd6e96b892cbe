package datacollector

import (
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/zlog"
)

// Collector lifecycle signals.
var (
	CollectorCreated   = capitan.NewSignal("datacollector.created", "Collector created")
	CollectorCancelled = capitan.NewSignal("datacollector.cancelled", "Collector cancelled")

	// Emission path.
	FieldPublished = capitan.NewSignal("datacollector.field.published", "Field value published")
	EmitRejected   = capitan.NewSignal("datacollector.emit.rejected", "Emission rejected after cancellation")

	// Assembly path.
	TupleAssembled = capitan.NewSignal("datacollector.tuple.assembled", "Synchronized tuple assembled")
	AssemblyFailed = capitan.NewSignal("datacollector.assembly.failed", "Assembly failed")
	LimitReached   = capitan.NewSignal("datacollector.limit.reached", "Collection limit reached")

	// Remote emission.
	RemoteAttached = capitan.NewSignal("datacollector.remote.attached", "Remote emitter attached")
)

// Field keys for event data.
var (
	KeyType       = capitan.NewStringKey("type")
	KeyField      = capitan.NewStringKey("field")
	KeyError      = capitan.NewStringKey("error")
	KeyReason     = capitan.NewStringKey("reason")
	KeySignature  = capitan.NewStringKey("signature")
	KeyFields     = capitan.NewIntKey("fields")
	KeyLimit      = capitan.NewIntKey("limit")
	KeyCount      = capitan.NewIntKey("count")
	KeySuperseded = capitan.NewBoolKey("superseded")
)

// Plan file logging signals.
const (
	PlanFileLoaded  = zlog.Signal("COLLECTOR_PLAN_FILE_LOADED")
	PlanFileFailed  = zlog.Signal("COLLECTOR_PLAN_FILE_FAILED")
	PlanParsed      = zlog.Signal("COLLECTOR_PLAN_PARSED")
	PlanParseFailed = zlog.Signal("COLLECTOR_PLAN_PARSE_FAILED")
)
