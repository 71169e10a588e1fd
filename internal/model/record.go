package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Record is the authoritative customer record. Enrichment never writes to
// it directly; values land here only through confirmed review actions.
type Record struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Location       string            `json:"location,omitempty"`
	Website        string            `json:"website,omitempty"`
	Industry       string            `json:"industry,omitempty"`
	Description    string            `json:"description,omitempty"`
	CompanySize    string            `json:"company_size,omitempty"`
	Address        string            `json:"address,omitempty"`
	Emails         []string          `json:"emails,omitempty"`
	Phones         []string          `json:"phones,omitempty"`
	SocialProfiles map[string]string `json:"social_profiles,omitempty"`

	EnrichmentStatus EnrichmentStatus `json:"enrichment_status"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Apply writes a reviewed value into the record's typed field. Values come
// from JSON-shaped suggestion payloads, so list fields accept both []string
// and []any, and social profiles accept map[string]string and map[string]any.
func (r *Record) Apply(f Field, value any) error {
	switch f {
	case FieldWebsite, FieldIndustry, FieldDescription, FieldCompanySize, FieldAddress:
		s, ok := value.(string)
		if !ok {
			return eris.Errorf("model: field %s expects a string, got %T", f, value)
		}
		switch f {
		case FieldWebsite:
			r.Website = s
		case FieldIndustry:
			r.Industry = s
		case FieldDescription:
			r.Description = s
		case FieldCompanySize:
			r.CompanySize = s
		case FieldAddress:
			r.Address = s
		}
	case FieldEmails, FieldPhones:
		list, err := toStringList(value)
		if err != nil {
			return eris.Wrapf(err, "model: field %s", f)
		}
		if f == FieldEmails {
			r.Emails = list
		} else {
			r.Phones = list
		}
	case FieldSocialProfiles:
		m, err := toStringMap(value)
		if err != nil {
			return eris.Wrap(err, "model: field social_profiles")
		}
		r.SocialProfiles = m
	default:
		return eris.Errorf("model: unknown field %q", f)
	}
	return nil
}

func toStringList(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, eris.Errorf("expects string elements, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, eris.Errorf("expects a string list, got %T", value)
	}
}

func toStringMap(value any) (map[string]string, error) {
	switch v := value.(type) {
	case map[string]string:
		return v, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, eris.Errorf("expects string values, got %T for %q", item, k)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, eris.Errorf("expects a string map, got %T", value)
	}
}
