// Package agents holds the four stage executors of the triage pipeline:
// case selection, investigation, escalation decision, and notification.
// Each implements the corresponding interface in the workflow package.
package agents
