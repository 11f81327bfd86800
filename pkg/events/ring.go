// Package events provides the per-pipeline event ring and the in-process
// publisher that fans events out to live subscribers.
package events

import "github.com/appforge/appforge/pkg/models"

// MaxEventsPerPipeline bounds the retained event history per pipeline.
// Overflow drops the oldest event (FIFO).
const MaxEventsPerPipeline = 100

// Append adds an event to a pipeline's ring, dropping the oldest entry
// once the cap is reached. Returns the updated slice.
func Append(ring []models.PipelineEvent, evt models.PipelineEvent) []models.PipelineEvent {
	ring = append(ring, evt)
	if len(ring) > MaxEventsPerPipeline {
		ring = ring[len(ring)-MaxEventsPerPipeline:]
	}
	return ring
}
