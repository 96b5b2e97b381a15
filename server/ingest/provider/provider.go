package provider

import "context"

// SummaryType selects the condensation style the Summarizer applies.
type SummaryType string

const (
	SummaryAuto      SummaryType = "auto"
	SummaryManual    SummaryType = "manual"
	SummaryMeeting   SummaryType = "meeting"
	SummaryKeyPoints SummaryType = "key_points"
)

type TranscribeOptions struct {
	Language         string
	SpeakerDetection bool
}

type Transcription struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type Extraction struct {
	Text string `json:"text"`
}

type Summary struct {
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

// The three extraction capabilities are independent; a deployment may back
// them with different vendors. No partial results: a call either returns a
// complete result or an error.
type Transcriber interface {
	Transcribe(ctx context.Context, url string, opts TranscribeOptions) (Transcription, error)
}

type TextExtractor interface {
	ExtractText(ctx context.Context, url string) (Extraction, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string, summaryType SummaryType) (Summary, error)
}
