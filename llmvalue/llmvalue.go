// CLAUDE:SUMMARY LLM-backed valuation strategy with strict JSON contract and conservative fallback on malformed output.
// Package llmvalue implements the valuation Strategy on top of an OpenAI
// chat model.
//
// The model receives the subject and a summarized peer group and must
// answer with one strict JSON object. Anything else — transport failure
// aside — degrades to a conservative fallback valuation instead of an
// error, so the engine never crashes or blocks on a misbehaving model.
package llmvalue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hazyhaar/denicheur/listing"
	"github.com/hazyhaar/denicheur/signals"
	"github.com/hazyhaar/denicheur/valuation"
)

// method tag recorded on valuations produced here.
const method = "llm"

// fallbackConfidence is the fixed low confidence of a fallback valuation.
const fallbackConfidence = 10

// maxPromptComparables caps how many peers go into the prompt.
const maxPromptComparables = 25

// completer is the slice of the OpenAI client the strategy uses.
// *openai.Client satisfies it; tests substitute a fake.
type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Strategy values listings by asking a chat model for an estimate.
type Strategy struct {
	client     completer
	model      string
	thresholds valuation.Thresholds
	logger     *slog.Logger
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithModel overrides the chat model. Default: gpt-4o-mini.
func WithModel(model string) Option {
	return func(s *Strategy) { s.model = model }
}

// WithCompleter substitutes the completion client (tests).
func WithCompleter(c completer) Option {
	return func(s *Strategy) { s.client = c }
}

// New creates an LLM strategy using the given API key.
func New(apiKey string, th valuation.Thresholds, logger *slog.Logger, opts ...Option) *Strategy {
	th.Defaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Strategy{
		client:     openai.NewClient(apiKey),
		model:      openai.GPT4oMini,
		thresholds: th,
		logger:     logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// modelReply is the JSON object the model must return.
type modelReply struct {
	EstimatedMarketPrice int64  `json:"estimated_market_price"`
	Confidence           int    `json:"confidence"`
	Reasoning            string `json:"reasoning"`
}

const systemPrompt = `You are a real-estate comparative market analyst.
Given a subject listing and recent comparable listings from the same
neighborhood, estimate the subject's fair market price.

Answer with ONE JSON object and nothing else:
{"estimated_market_price": <integer dollars>, "confidence": <0-100 integer>, "reasoning": "<one sentence>"}`

// Analyze implements valuation.Strategy.
//
// Transport errors propagate so the engine can count them; malformed or
// implausible model output is replaced by a fallback valuation
// (insufficient_data, fixed low confidence, never flagged undervalued).
func (s *Strategy) Analyze(ctx context.Context, subject *listing.Listing, pool []listing.Listing) (*valuation.Valuation, error) {
	payload, err := buildPayload(subject, pool)
	if err != nil {
		return nil, fmt.Errorf("llmvalue: build payload: %w", err)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: payload},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llmvalue: completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return s.fallback(subject, "empty completion"), nil
	}
	reply, err := parseReply(resp.Choices[0].Message.Content)
	if err != nil {
		return s.fallback(subject, err.Error()), nil
	}

	discount := valuation.DiscountPercent(reply.EstimatedMarketPrice, subject.Price)
	class := valuation.Classify(discount, reply.Confidence, method, &s.thresholds)

	return &valuation.Valuation{
		ListingID:            subject.ID,
		EstimatedMarketPrice: reply.EstimatedMarketPrice,
		ActualPrice:          subject.Price,
		DiscountPercent:      discount,
		Confidence:           reply.Confidence,
		Method:               method,
		Classification:       class,
		SampleSize:           len(pool),
		Signals:              signals.Extract(subject.Description),
		AnalyzedAt:           time.Now(),
	}, nil
}

// fallback is the conservative result for malformed model output: never
// undervalued, fixed low confidence, counted but harmless.
func (s *Strategy) fallback(subject *listing.Listing, reason string) *valuation.Valuation {
	s.logger.Warn("llmvalue: falling back on conservative valuation",
		"listing_id", subject.ID, "reason", reason)
	return &valuation.Valuation{
		ListingID:      subject.ID,
		ActualPrice:    subject.Price,
		Confidence:     fallbackConfidence,
		Method:         method,
		Classification: valuation.InsufficientData,
		Signals:        signals.Extract(subject.Description),
		AnalyzedAt:     time.Now(),
	}
}

// promptListing is the compact listing shape sent to the model.
type promptListing struct {
	Price     int64    `json:"price"`
	Bedrooms  *int     `json:"bedrooms,omitempty"`
	Bathrooms *float64 `json:"bathrooms,omitempty"`
	Sqft      float64  `json:"sqft,omitempty"`
	Amenities []string `json:"amenities,omitempty"`
}

func buildPayload(subject *listing.Listing, pool []listing.Listing) (string, error) {
	comparables := make([]promptListing, 0, len(pool))
	for i := range pool {
		if len(comparables) >= maxPromptComparables {
			break
		}
		c := &pool[i]
		if c.ID == subject.ID || c.Price <= 0 {
			continue
		}
		comparables = append(comparables, promptListing{
			Price:     c.Price,
			Bedrooms:  c.Bedrooms,
			Bathrooms: c.Bathrooms,
			Sqft:      c.Sqft,
			Amenities: c.Amenities,
		})
	}

	doc := struct {
		Neighborhood string          `json:"neighborhood"`
		Subject      promptListing   `json:"subject"`
		Description  string          `json:"description,omitempty"`
		Comparables  []promptListing `json:"comparables"`
	}{
		Neighborhood: subject.Neighborhood,
		Subject: promptListing{
			Price:     subject.Price,
			Bedrooms:  subject.Bedrooms,
			Bathrooms: subject.Bathrooms,
			Sqft:      subject.Sqft,
			Amenities: subject.Amenities,
		},
		Description: subject.Description,
		Comparables: comparables,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// parseReply extracts and validates the model's JSON object. Models often
// wrap JSON in markdown fences; tolerate that, nothing more.
func parseReply(content string) (*modelReply, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var r modelReply
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}
	if r.EstimatedMarketPrice <= 0 {
		return nil, fmt.Errorf("implausible estimate %d", r.EstimatedMarketPrice)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return nil, fmt.Errorf("confidence %d out of range", r.Confidence)
	}
	return &r, nil
}
