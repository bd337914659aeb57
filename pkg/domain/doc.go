// Package domain contains the core domain entities of the URL risk scoring
// pipeline: scan records, reachability classifications, category and
// threat-intelligence results, and the final ScanResult aggregate. These types
// are intentionally free of infrastructure concerns so they can be shared
// across the pipeline, storage, and worker packages. The JSON shape of
// ScanResult is a stable, additive contract consumed by downstream systems.
package domain
