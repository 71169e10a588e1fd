package model

// Field identifies a reviewable record attribute. The set is closed: the
// same enum drives input validation, consensus merging, and the review
// state machine.
type Field string

const (
	FieldWebsite        Field = "website"
	FieldIndustry       Field = "industry"
	FieldDescription    Field = "description"
	FieldCompanySize    Field = "company_size"
	FieldAddress        Field = "address"
	FieldEmails         Field = "emails"
	FieldPhones         Field = "phones"
	FieldSocialProfiles Field = "social_profiles"
)

// FieldKind describes how values of a field are compared and merged.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindList
	KindMap
)

var allFields = []Field{
	FieldWebsite,
	FieldIndustry,
	FieldDescription,
	FieldCompanySize,
	FieldAddress,
	FieldEmails,
	FieldPhones,
	FieldSocialProfiles,
}

// AllFields returns the reviewable field set in canonical order.
func AllFields() []Field {
	out := make([]Field, len(allFields))
	copy(out, allFields)
	return out
}

// ParseField validates a raw field name against the closed set.
func ParseField(s string) (Field, bool) {
	f := Field(s)
	for _, known := range allFields {
		if f == known {
			return f, true
		}
	}
	return "", false
}

// ParseFields validates a list of raw field names, preserving order and
// dropping duplicates. The second return value lists unknown names.
func ParseFields(raw []string) ([]Field, []string) {
	var fields []Field
	var unknown []string
	seen := make(map[Field]bool, len(raw))
	for _, s := range raw {
		f, ok := ParseField(s)
		if !ok {
			unknown = append(unknown, s)
			continue
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		fields = append(fields, f)
	}
	return fields, unknown
}

// Kind returns the merge/compare kind for the field.
func (f Field) Kind() FieldKind {
	switch f {
	case FieldEmails, FieldPhones:
		return KindList
	case FieldSocialProfiles:
		return KindMap
	default:
		return KindScalar
	}
}
