package event

// Transformer is an optional hook the bus applies between publish and
// fan-out, resolving §9's camera-metadata-enrichment note: enrichment
// (e.g. resolving a device id to a human-readable camera name) is a
// pluggable transform, not part of the bus or rule engine contract.
// Transformers must not block for long; they run inline on the publisher.
type Transformer func(Event) Event
