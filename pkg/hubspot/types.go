// Package hubspot implements HubSpot CRM v3 API operations on top of the
// rate-limited executor.
package hubspot

import "time"

// Deal is one raw CRM deal record as returned by the list endpoint.
// Properties and Associations are pass-through bags; the transform package
// owns their interpretation.
type Deal struct {
	ID           string         `json:"id"`
	Properties   map[string]any `json:"properties"`
	Associations map[string]any `json:"associations,omitempty"`
	CreatedAt    string         `json:"createdAt,omitempty"`
	UpdatedAt    string         `json:"updatedAt,omitempty"`
	Archived     bool           `json:"archived"`
}

// Page is the normalized shape of one list-deals response.
type Page struct {
	// Deals in the order returned by the API.
	Deals []Deal

	// NextCursor is the pagination token for the following page, empty
	// when this is the last page.
	NextCursor string

	// Total as reported by the API, when present.
	Total *int64
}

// dealsResponse is the raw list endpoint body.
type dealsResponse struct {
	Results []Deal  `json:"results"`
	Paging  *paging `json:"paging"`
	Total   *int64  `json:"total"`
}

type paging struct {
	Next *pagingNext `json:"next"`
}

type pagingNext struct {
	After string `json:"after"`
	Link  string `json:"link"`
}

// nextCursor extracts the paging.next.after token, empty when absent.
func (r *dealsResponse) nextCursor() string {
	if r.Paging != nil && r.Paging.Next != nil {
		return r.Paging.Next.After
	}
	return ""
}

// AccountInfo describes the HubSpot portal the token belongs to.
type AccountInfo struct {
	PortalID    int64  `json:"portalId"`
	AccountType string `json:"accountType"`
	TimeZone    string `json:"timeZone"`
	Currency    string `json:"companyCurrency"`
	DataCenter  string `json:"dataHostingLocation"`
}

// APIUsage summarizes the account's daily request budget.
type APIUsage struct {
	DailyLimit     int64     `json:"daily_limit"`
	DailyRemaining int64     `json:"daily_remaining"`
	IntervalLimit  int       `json:"interval_limit"`
	IntervalWindow int       `json:"interval_window_seconds"`
	Timestamp      time.Time `json:"timestamp"`
}
