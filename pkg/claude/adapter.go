// Package claude implements a provider.Adapter backed by the Anthropic API.
// One message per enrichment request asks the model for a JSON object of
// per-field values with confidences.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-enrich/internal/model"
	"github.com/sells-group/crm-enrich/internal/provider"
)

const adapterName = "claude"

// messageAPI is the slice of the SDK the adapter uses, for test injection.
type messageAPI interface {
	create(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error)
}

// sdkMessages adapts the official client to messageAPI.
type sdkMessages struct {
	client sdk.Client
}

func (s *sdkMessages) create(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	return s.client.Messages.New(ctx, params)
}

// Adapter asks Claude for per-field enrichment candidates.
type Adapter struct {
	messages  messageAPI
	model     string
	maxTokens int64
}

// New creates an Adapter with the given API key and model.
func New(apiKey, modelID string, maxTokens int64) *Adapter {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Adapter{
		messages:  &sdkMessages{client: sdk.NewClient(option.WithAPIKey(apiKey))},
		model:     modelID,
		maxTokens: maxTokens,
	}
}

// WithMessages swaps the message API, for tests.
func (a *Adapter) WithMessages(m messageAPI) *Adapter {
	a.messages = m
	return a
}

func (a *Adapter) Name() string {
	return adapterName
}

func (a *Adapter) Fields() []model.Field {
	return model.AllFields()
}

func (a *Adapter) CanProvide(model.Field) bool {
	return true
}

// fieldGuess is the per-field shape the model is asked to produce.
type fieldGuess struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Enrich sends one message and parses its JSON answer into candidates.
func (a *Adapter) Enrich(ctx context.Context, p provider.Profile, fields []model.Field) (provider.Candidates, error) {
	msg, err := a.messages.create(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: a.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(buildPrompt(p, fields))),
		},
	})
	if err != nil {
		return nil, provider.Classify(adapterName, eris.Wrap(err, "claude: create message"))
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	zap.L().Debug("claude: response received",
		zap.String("model", string(msg.Model)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	candidates, err := parseAnswer(text, fields)
	if err != nil {
		return nil, provider.NewFault(adapterName, provider.FaultMalformed, err)
	}
	return candidates, nil
}

const systemPrompt = `You enrich business records. Answer with a single JSON object and nothing else. Each key is a requested field name; each value is {"value": ..., "confidence": 0.0-1.0}. Omit fields you cannot answer. Field types: website, industry, description, company_size, address take strings; emails and phones take string arrays; social_profiles takes an object mapping network name to URL.`

func buildPrompt(p provider.Profile, fields []model.Field) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", p.Name)
	if p.Website != "" {
		fmt.Fprintf(&b, "Known website: %s\n", p.Website)
	}
	if p.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", p.Location)
	}
	if p.Industry != "" {
		fmt.Fprintf(&b, "Known industry: %s\n", p.Industry)
	}
	if len(p.Emails) > 0 {
		fmt.Fprintf(&b, "Known emails: %s\n", strings.Join(p.Emails, ", "))
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	fmt.Fprintf(&b, "Requested fields: %s\n", strings.Join(names, ", "))
	return b.String()
}

// parseAnswer extracts the JSON object from the model's text and maps it
// onto the requested fields. Unknown keys are dropped; confidences are
// clamped into [0, 1].
func parseAnswer(text string, fields []model.Field) (provider.Candidates, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("claude: no JSON object in response")
	}

	var raw map[string]fieldGuess
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, eris.Wrap(err, "claude: parse response")
	}

	requested := make(map[model.Field]bool, len(fields))
	for _, f := range fields {
		requested[f] = true
	}

	out := make(provider.Candidates)
	for key, guess := range raw {
		f, ok := model.ParseField(key)
		if !ok || !requested[f] || guess.Value == nil {
			continue
		}
		conf := guess.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		out[f] = provider.Candidate{Value: guess.Value, Confidence: conf}
	}
	return out, nil
}
