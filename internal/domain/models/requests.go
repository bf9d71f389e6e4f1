package models

// Requests for the feature HTTP endpoints and asynchronous build messages.

type FeaturesRequest struct {
	Symbol  string `query:"symbol" json:"symbol" validate:"required,max=16"`
	From    string `query:"from" json:"from" validate:"omitempty,datetime=2006-01-02"`
	To      string `query:"to" json:"to" validate:"omitempty,datetime=2006-01-02"`
	Refresh bool   `query:"refresh" json:"refresh"`
}

type BarsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,max=16"`
	From   string `query:"from" json:"from" validate:"omitempty,datetime=2006-01-02"`
	To     string `query:"to" json:"to" validate:"omitempty,datetime=2006-01-02"`
	Limit  int    `query:"limit" json:"limit" default:"5000" validate:"gte=1,lte=20000"`
}

// BuildRequest asks for features to be (re)built for a set of symbols.
// It travels over the job queue and the build-request Kafka topic.
type BuildRequest struct {
	RequestID string   `json:"request_id,omitempty"`
	Symbols   []string `json:"symbols" validate:"required,min=1,max=100,dive,required,max=16"`
	From      string   `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To        string   `json:"to" validate:"omitempty,datetime=2006-01-02"`
	Refresh   bool     `json:"refresh"`
}

// JobTypeBuildFeatures is the queue message type for BuildRequest payloads.
const JobTypeBuildFeatures = "features.build"
