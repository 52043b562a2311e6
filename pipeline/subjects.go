// Package pipeline defines the wire contract between the contract analysis
// components: NATS subjects, JetStream stream layout, typed message payloads,
// and the participant routing table.
package pipeline

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Stream names. CONTRACTS carries submissions and fan-out requests, ANALYSIS
// carries participant results and final aggregates.
const (
	ContractsStream = "CONTRACTS"
	AnalysisStream  = "ANALYSIS"
)

// Subject roots.
const (
	subjectSubmitted = "contract.submitted."
	subjectRequest   = "analysis.request."
	subjectResult    = "analysis.result."
	subjectFinal     = "contract.final."

	// SubjectSubmittedAll matches every contract submission.
	SubjectSubmittedAll = subjectSubmitted + ">"
	// SubjectResultAll matches every participant result.
	SubjectResultAll = subjectResult + ">"
)

// SubjectSubmitted is the subject a new contract submission is published on.
func SubjectSubmitted(taskID string) string {
	return subjectSubmitted + taskID
}

// SubjectRequest is the subject for one participant's analysis request.
func SubjectRequest(participant, taskID string) string {
	return subjectRequest + participant + "." + taskID
}

// SubjectRequestFor matches all analysis requests for one participant.
func SubjectRequestFor(participant string) string {
	return subjectRequest + participant + ".>"
}

// SubjectResult is the subject a participant result is published on.
func SubjectResult(taskID string) string {
	return subjectResult + taskID
}

// SubjectFinal is the subject the aggregated outcome is published on.
func SubjectFinal(taskID string) string {
	return subjectFinal + taskID
}

// StreamConfigs returns the JetStream stream definitions the pipeline needs.
// maxAge bounds how long unconsumed messages are retained.
func StreamConfigs(maxAge time.Duration) []jetstream.StreamConfig {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return []jetstream.StreamConfig{
		{
			Name:      ContractsStream,
			Subjects:  []string{subjectSubmitted + ">", subjectRequest + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    maxAge,
		},
		{
			Name:      AnalysisStream,
			Subjects:  []string{subjectResult + ">", subjectFinal + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    maxAge,
		},
	}
}
