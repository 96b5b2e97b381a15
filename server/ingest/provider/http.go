package provider

import (
	"context"
	"errors"

	"knowledge_server/server/common/apperr"
	"knowledge_server/server/common/infra/aisvc"
)

// HTTPProvider implements all three capabilities against the AI provider
// gateway. One gateway client serves them; deployments that split vendors
// construct one HTTPProvider per endpoint set.
type HTTPProvider struct {
	client *aisvc.Client
}

func NewHTTPProvider(endpoints ...string) *HTTPProvider {
	return &HTTPProvider{client: aisvc.NewClient(endpoints...)}
}

func (p *HTTPProvider) Transcribe(ctx context.Context, url string, opts TranscribeOptions) (Transcription, error) {
	payload := map[string]any{
		"audio_url":         url,
		"language":          defaultLanguage(opts.Language),
		"speaker_detection": opts.SpeakerDetection,
	}
	var out Transcription
	if err := p.client.Post(ctx, aisvc.BasePath+"/transcribe", payload, &out); err != nil {
		return Transcription{}, classify("transcribe", err)
	}
	return out, nil
}

func (p *HTTPProvider) ExtractText(ctx context.Context, url string) (Extraction, error) {
	payload := map[string]any{"file_url": url}
	var out Extraction
	if err := p.client.Post(ctx, aisvc.BasePath+"/extract-text", payload, &out); err != nil {
		return Extraction{}, classify("extract text", err)
	}
	return out, nil
}

func (p *HTTPProvider) Summarize(ctx context.Context, text string, summaryType SummaryType) (Summary, error) {
	if summaryType == "" {
		summaryType = SummaryAuto
	}
	payload := map[string]any{
		"content":      text,
		"summary_type": summaryType,
	}
	var out Summary
	if err := p.client.Post(ctx, aisvc.BasePath+"/summarize", payload, &out); err != nil {
		return Summary{}, classify("summarize", err)
	}
	return out, nil
}

func classify(operation string, err error) error {
	if errors.Is(err, aisvc.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.ProviderTimeout(operation, err)
	}
	return apperr.Provider(operation, err)
}

func defaultLanguage(language string) string {
	if language == "" {
		return "en"
	}
	return language
}
