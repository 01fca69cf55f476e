// Package harvest implements the two-stage harvesting pipeline: partition
// discovery, pooled entity listing, pooled detail fetching with cooperative
// congestion control, the identity-keyed merge of partial results, and the
// idempotent hand-off to a persistence sink.
package harvest
