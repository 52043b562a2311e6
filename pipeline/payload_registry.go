package pipeline

import "github.com/c360studio/semstreams/component"

func init() {
	registrations := []*component.PayloadRegistration{
		{
			Domain:      "contract",
			Category:    "submitted",
			Version:     "v1",
			Description: "Contract accepted by the gateway and split into sections",
			Factory:     func() any { return &SubmittedPayload{} },
		},
		{
			Domain:      "contract",
			Category:    "analysis-request",
			Version:     "v1",
			Description: "Per-participant analysis request with the section subset",
			Factory:     func() any { return &AnalysisRequest{} },
		},
		{
			Domain:      "contract",
			Category:    "analysis-result",
			Version:     "v1",
			Description: "One participant's analysis result or failure",
			Factory:     func() any { return &ResultEnvelope{} },
		},
		{
			Domain:      "contract",
			Category:    "final",
			Version:     "v1",
			Description: "Aggregated terminal outcome for a task",
			Factory:     func() any { return &FinalResult{} },
		},
	}
	for _, reg := range registrations {
		if err := component.RegisterPayload(reg); err != nil {
			panic("failed to register " + reg.Category + " payload: " + err.Error())
		}
	}
}
