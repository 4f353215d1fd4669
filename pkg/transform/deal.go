// Package transform maps raw HubSpot deal records to the normalized
// output schema. Transformation is pure: malformed individual fields
// become nulls, never errors, so a bad record can never abort a page.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/crmsync/hubspot-extractor/pkg/hubspot"
	"github.com/shopspring/decimal"
)

// SourceService identifies this extractor in record metadata.
const SourceService = "hubspot_deals"

// NormalizedDeal is the per-record contract yielded to consumers. DealID
// is the stable identifier consumers must upsert on; redelivery after a
// resume is possible for up to one page.
type NormalizedDeal struct {
	DealID         string           `json:"deal_id"`
	DealName       string           `json:"deal_name,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Currency       string           `json:"currency"`
	DealStage      string           `json:"deal_stage,omitempty"`
	DealStageLabel string           `json:"deal_stage_label,omitempty"`
	PipelineID     string           `json:"pipeline_id,omitempty"`
	PipelineLabel  string           `json:"pipeline_label,omitempty"`
	CloseDate      *time.Time       `json:"close_date,omitempty"`
	CreatedAt      *time.Time       `json:"created_at,omitempty"`
	UpdatedAt      *time.Time       `json:"updated_at,omitempty"`
	OwnerID        string           `json:"owner_id,omitempty"`
	OwnerEmail     string           `json:"owner_email,omitempty"`
	DealType       string           `json:"deal_type,omitempty"`
	IsArchived     bool             `json:"is_archived"`
	DealURL        string           `json:"deal_url,omitempty"`

	// Pass-through bags.
	Properties   map[string]any `json:"properties,omitempty"`
	Associations map[string]any `json:"associations,omitempty"`

	// Extraction metadata.
	ExtractedAt    time.Time `json:"_extracted_at"`
	ScanID         string    `json:"_scan_id"`
	OrganizationID string    `json:"_organization_id"`
	PageNumber     int       `json:"_page_number"`
	SourceService  string    `json:"_source_service"`
}

// Deal maps one raw deal to the normalized schema. extractedAt is passed
// in so the caller controls the only non-deterministic output field.
func Deal(raw hubspot.Deal, scanID, organizationID string, pageNumber int, extractedAt time.Time) NormalizedDeal {
	props := raw.Properties

	currency := propString(props, "deal_currency_code")
	if currency == "" {
		currency = "USD"
	}

	var dealURL string
	if raw.ID != "" {
		dealURL = fmt.Sprintf("https://app.hubspot.com/contacts/%s/deal/%s",
			propString(props, "hs_object_id"), raw.ID)
	}

	return NormalizedDeal{
		DealID:         raw.ID,
		DealName:       propString(props, "dealname"),
		Amount:         safeDecimal(props["amount"]),
		Currency:       currency,
		DealStage:      propString(props, "dealstage"),
		DealStageLabel: propString(props, "dealstage_label"),
		PipelineID:     propString(props, "pipeline"),
		PipelineLabel:  propString(props, "pipeline_label"),
		CloseDate:      safeTime(props["closedate"]),
		CreatedAt:      safeTime(props["createdate"]),
		UpdatedAt:      safeTime(props["hs_lastmodifieddate"]),
		OwnerID:        propString(props, "hubspot_owner_id"),
		OwnerEmail:     propString(props, "hubspot_owner_email"),
		DealType:       propString(props, "dealtype"),
		IsArchived:     raw.Archived,
		DealURL:        dealURL,
		Properties:     props,
		Associations:   raw.Associations,
		ExtractedAt:    extractedAt,
		ScanID:         scanID,
		OrganizationID: organizationID,
		PageNumber:     pageNumber,
		SourceService:  SourceService,
	}
}

// propString reads a property as a string, "" for missing or non-string
// values.
func propString(props map[string]any, key string) string {
	if props == nil {
		return ""
	}
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

// safeDecimal converts a numeric or string value to a decimal, nil on
// unparseable input.
func safeDecimal(value any) *decimal.Decimal {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		return &d
	case float64:
		d := decimal.NewFromFloat(v)
		return &d
	case int64:
		d := decimal.NewFromInt(v)
		return &d
	case int:
		d := decimal.NewFromInt(int64(v))
		return &d
	default:
		return nil
	}
}

// epochMillisThreshold distinguishes epoch-milliseconds from
// epoch-seconds for bare numeric timestamps.
const epochMillisThreshold = 1e10

// safeTime converts a HubSpot timestamp to UTC time, nil on unparseable
// input. Accepts epoch milliseconds (HubSpot's usual encoding, as digit
// strings or numbers), epoch seconds, and ISO-8601 strings.
func safeTime(value any) *time.Time {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		if isDigits(s) {
			millis, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil
			}
			t := time.UnixMilli(millis).UTC()
			return &t
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			t = t.UTC()
			return &t
		}
		return nil
	case float64:
		var t time.Time
		if v > epochMillisThreshold {
			t = time.UnixMilli(int64(v)).UTC()
		} else {
			t = time.Unix(int64(v), 0).UTC()
		}
		return &t
	default:
		return nil
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
