package r5

import (
	"encoding/json"
	"time"
)

// Observation represents a FHIR R5 Observation resource restricted to the
// quantitative result fields.
type Observation struct {
	ResourceType      string                      `json:"resourceType"`
	ID                string                      `json:"id,omitempty"`
	Meta              *Meta                       `json:"meta,omitempty"`
	Identifier        []Identifier                `json:"identifier,omitempty"`
	Status            string                      `json:"status"`
	Category          []CodeableConcept           `json:"category,omitempty"`
	Code              CodeableConcept             `json:"code"`
	Subject           *Reference                  `json:"subject,omitempty"`
	EffectiveDateTime *time.Time                  `json:"effectiveDateTime,omitempty"`
	EffectivePeriod   *Period                     `json:"effectivePeriod,omitempty"`
	Issued            *time.Time                  `json:"issued,omitempty"`
	ValueQuantity     *Quantity                   `json:"valueQuantity,omitempty"`
	Interpretation    []CodeableConcept           `json:"interpretation,omitempty"`
	ReferenceRange    []ObservationReferenceRange `json:"referenceRange,omitempty"`
}

// ObservationReferenceRange is a range an observation value is compared to
type ObservationReferenceRange struct {
	Low       *Quantity         `json:"low,omitempty"`
	High      *Quantity         `json:"high,omitempty"`
	Type      *CodeableConcept  `json:"type,omitempty"`
	AppliesTo []CodeableConcept `json:"appliesTo,omitempty"`
	Text      string            `json:"text,omitempty"`
}

// EffectiveTime returns when the observation was made: effectiveDateTime,
// then the start of effectivePeriod, then issued.
func (o *Observation) EffectiveTime() (time.Time, bool) {
	switch {
	case o.EffectiveDateTime != nil:
		return *o.EffectiveDateTime, true
	case o.EffectivePeriod != nil && o.EffectivePeriod.Start != nil:
		return *o.EffectivePeriod.Start, true
	case o.Issued != nil:
		return *o.Issued, true
	}
	return time.Time{}, false
}

// CategoryCode returns the first observation-category code, e.g. "laboratory"
func (o *Observation) CategoryCode() string {
	for i := range o.Category {
		if code := o.Category[i].CodeIn(SystemObservationCategory); code != "" {
			return code
		}
	}
	return ""
}

// Bundle represents a FHIR R5 Bundle. Entries keep their raw resource so
// bundles of mixed resource types can be decoded selectively.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"` // searchset | collection | transaction | ...
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry is a single resource in a bundle
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

type resourceHeader struct {
	ResourceType string `json:"resourceType"`
}

// Observations decodes the Observation entries of the bundle in order and
// returns the Patient entry if one is present.
func (b *Bundle) Observations() ([]Observation, *Patient, error) {
	var (
		observations []Observation
		patient      *Patient
	)
	for _, entry := range b.Entry {
		var header resourceHeader
		if err := json.Unmarshal(entry.Resource, &header); err != nil {
			return nil, nil, err
		}
		switch header.ResourceType {
		case "Observation":
			var obs Observation
			if err := json.Unmarshal(entry.Resource, &obs); err != nil {
				return nil, nil, err
			}
			observations = append(observations, obs)
		case "Patient":
			if patient == nil {
				patient = &Patient{}
				if err := json.Unmarshal(entry.Resource, patient); err != nil {
					return nil, nil, err
				}
			}
		}
	}
	return observations, patient, nil
}
