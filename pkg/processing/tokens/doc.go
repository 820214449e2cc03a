// Package tokens estimates prompt sizes for metrics.
//
// TiktokenEstimator counts BPE tokens; SimpleEstimator approximates four
// characters per token. Estimates are attached to request metrics and never
// influence routing.
package tokens
