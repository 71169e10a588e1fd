package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordApply_Scalars(t *testing.T) {
	var r Record
	require.NoError(t, r.Apply(FieldWebsite, "https://acme.io"))
	require.NoError(t, r.Apply(FieldIndustry, "Logistics"))
	require.NoError(t, r.Apply(FieldCompanySize, "51-200"))

	assert.Equal(t, "https://acme.io", r.Website)
	assert.Equal(t, "Logistics", r.Industry)
	assert.Equal(t, "51-200", r.CompanySize)
}

func TestRecordApply_ListsAcceptJSONShapes(t *testing.T) {
	var r Record
	require.NoError(t, r.Apply(FieldEmails, []string{"a@acme.io"}))
	require.NoError(t, r.Apply(FieldPhones, []any{"+1 555 0100", "+1 555 0101"}))

	assert.Equal(t, []string{"a@acme.io"}, r.Emails)
	assert.Equal(t, []string{"+1 555 0100", "+1 555 0101"}, r.Phones)
}

func TestRecordApply_SocialProfiles(t *testing.T) {
	var r Record
	require.NoError(t, r.Apply(FieldSocialProfiles, map[string]any{"linkedin": "acme"}))
	assert.Equal(t, map[string]string{"linkedin": "acme"}, r.SocialProfiles)
}

func TestRecordApply_TypeMismatch(t *testing.T) {
	var r Record
	assert.Error(t, r.Apply(FieldWebsite, 42))
	assert.Error(t, r.Apply(FieldEmails, "not-a-list"))
	assert.Error(t, r.Apply(FieldEmails, []any{1, 2}))
	assert.Error(t, r.Apply(FieldSocialProfiles, map[string]any{"linkedin": 3}))
	assert.Error(t, r.Apply(Field("nope"), "x"))
}
