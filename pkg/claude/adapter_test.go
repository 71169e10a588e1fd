package claude

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-enrich/internal/model"
	"github.com/sells-group/crm-enrich/internal/provider"
)

type mockMessages struct {
	response *sdk.Message
	err      error
	params   sdk.MessageNewParams
}

func (m *mockMessages) create(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func textResponse(text string) *sdk.Message {
	return &sdk.Message{
		Model: "claude-haiku-4-5-20251001",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: text},
		},
	}
}

func testProfile() provider.Profile {
	return provider.Profile{RecordID: "rec-1", Name: "Acme Logistics", Location: "Austin, TX"}
}

func TestEnrich_ParsesCandidates(t *testing.T) {
	mock := &mockMessages{response: textResponse(`{
		"website": {"value": "https://acme.io", "confidence": 0.85},
		"emails": {"value": ["info@acme.io"], "confidence": 0.6}
	}`)}
	a := New("test-key", "claude-haiku-4-5-20251001", 2048).WithMessages(mock)

	candidates, err := a.Enrich(context.Background(), testProfile(), []model.Field{model.FieldWebsite, model.FieldEmails})
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.Equal(t, "https://acme.io", candidates[model.FieldWebsite].Value)
	assert.InDelta(t, 0.85, candidates[model.FieldWebsite].Confidence, 0.001)
	assert.Equal(t, []any{"info@acme.io"}, candidates[model.FieldEmails].Value)
}

func TestEnrich_PassesModelAndTokens(t *testing.T) {
	mock := &mockMessages{response: textResponse(`{}`)}
	a := New("test-key", "claude-haiku-4-5-20251001", 1024).WithMessages(mock)

	_, err := a.Enrich(context.Background(), testProfile(), []model.Field{model.FieldIndustry})
	require.NoError(t, err)

	assert.EqualValues(t, "claude-haiku-4-5-20251001", mock.params.Model)
	assert.EqualValues(t, 1024, mock.params.MaxTokens)
	require.Len(t, mock.params.Messages, 1)
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(testProfile(), []model.Field{model.FieldIndustry, model.FieldEmails})
	assert.Contains(t, prompt, "Acme Logistics")
	assert.Contains(t, prompt, "Austin, TX")
	assert.Contains(t, prompt, "industry, emails")
}

func TestEnrich_ExtractsEmbeddedJSON(t *testing.T) {
	mock := &mockMessages{response: textResponse(
		`Here is what I found: {"industry": {"value": "Logistics", "confidence": 0.7}} Hope that helps.`,
	)}
	a := New("test-key", "m", 0).WithMessages(mock)

	candidates, err := a.Enrich(context.Background(), testProfile(), []model.Field{model.FieldIndustry})
	require.NoError(t, err)
	assert.Equal(t, "Logistics", candidates[model.FieldIndustry].Value)
}

func TestEnrich_MalformedResponseFault(t *testing.T) {
	mock := &mockMessages{response: textResponse("I could not find anything.")}
	a := New("test-key", "m", 0).WithMessages(mock)

	_, err := a.Enrich(context.Background(), testProfile(), []model.Field{model.FieldIndustry})
	require.Error(t, err)

	var fault *provider.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, provider.FaultMalformed, fault.Kind)
}

func TestEnrich_APIErrorClassified(t *testing.T) {
	mock := &mockMessages{err: eris.New("401 unauthorized")}
	a := New("test-key", "m", 0).WithMessages(mock)

	_, err := a.Enrich(context.Background(), testProfile(), []model.Field{model.FieldIndustry})
	require.Error(t, err)

	var fault *provider.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, provider.FaultAuth, fault.Kind)
}

func TestParseAnswer_FiltersAndClamps(t *testing.T) {
	candidates, err := parseAnswer(`{
		"website": {"value": "https://acme.io", "confidence": 1.7},
		"industry": {"value": "Logistics", "confidence": -0.2},
		"ceo_name": {"value": "Jan", "confidence": 0.9},
		"emails": {"value": ["a@acme.io"], "confidence": 0.5},
		"description": {"value": null, "confidence": 0.5}
	}`, []model.Field{model.FieldWebsite, model.FieldIndustry, model.FieldDescription})
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.InDelta(t, 1.0, candidates[model.FieldWebsite].Confidence, 0.001)
	assert.InDelta(t, 0.0, candidates[model.FieldIndustry].Confidence, 0.001)

	// Unknown keys, unrequested fields and null values are dropped.
	_, hasEmails := candidates[model.FieldEmails]
	assert.False(t, hasEmails)
	_, hasDescription := candidates[model.FieldDescription]
	assert.False(t, hasDescription)
}

func TestParseAnswer_NoJSON(t *testing.T) {
	_, err := parseAnswer("nothing here", []model.Field{model.FieldWebsite})
	assert.Error(t, err)
}

func TestAdapter_Identity(t *testing.T) {
	a := New("key", "m", 0)
	assert.Equal(t, "claude", a.Name())
	assert.Equal(t, model.AllFields(), a.Fields())
	assert.True(t, a.CanProvide(model.FieldPhones))
}
