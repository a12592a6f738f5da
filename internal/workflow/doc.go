// Package workflow is the coordination core of caseflow. It defines the
// Coordinator (stage sequencing, retry/backoff, cancellation), the Store and
// MetricsStore persistence contracts, the Monitor (stuck-workflow detection
// and periodic optimization), and the domain models.
package workflow
