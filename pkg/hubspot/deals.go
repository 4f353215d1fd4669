package hubspot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crmsync/hubspot-extractor/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// API endpoint paths.
const (
	dealsPath       = "/crm/v3/objects/deals"
	apiUsagePath    = "/account-info/v3/api-usage/daily"
	accountInfoPath = "/account-info/v3/details"
)

// MaxPageSize is the hard page-size ceiling of the HubSpot list API.
// Requested batch sizes above it are clamped, never rejected.
const MaxPageSize = 100

// defaultDealProperties is requested when the caller supplies no property
// filter.
var defaultDealProperties = []string{
	"dealname", "amount", "dealstage", "pipeline", "closedate",
	"createdate", "hs_lastmodifieddate", "hubspot_owner_id",
	"dealtype", "hs_deal_stage_probability",
}

// Service exposes the HubSpot CRM operations used by the extraction
// engine. It holds no retry or persistence logic of its own; resilience
// lives entirely in the executor.
type Service struct {
	client *client.Client
	logger zerolog.Logger
}

// NewService creates a deals service on top of an executor.
func NewService(c *client.Client) *Service {
	return &Service{
		client: c,
		logger: log.With().Str("component", "hubspot-deals").Logger(),
	}
}

// ListOptions are the per-page parameters for ListDeals.
type ListOptions struct {
	// After is the pagination cursor, empty for the first page.
	After string

	// Limit is the requested page size; clamped to MaxPageSize.
	Limit int

	// Properties to retrieve; the default deal set when empty.
	Properties []string

	// Associations to include, if any.
	Associations []string

	// Archived includes archived deals.
	Archived bool

	// ExtraParams are opaque caller-supplied query parameters.
	ExtraParams url.Values
}

// ListDeals fetches one page of deals and normalizes it into a Page.
// Terminal non-2xx responses surface as *client.APIError.
func (s *Service) ListDeals(ctx context.Context, opts ListOptions) (*Page, error) {
	startTime := time.Now()

	query := url.Values{}
	for key, values := range opts.ExtraParams {
		query[key] = append([]string(nil), values...)
	}

	limit := opts.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("archived", strconv.FormatBool(opts.Archived))

	if len(opts.Properties) > 0 {
		query.Set("properties", strings.Join(opts.Properties, ","))
	} else {
		query.Set("properties", strings.Join(defaultDealProperties, ","))
	}
	if len(opts.Associations) > 0 {
		query.Set("associations", strings.Join(opts.Associations, ","))
	}
	if opts.After != "" {
		query.Set("after", opts.After)
	}

	s.logger.Debug().
		Int("limit", limit).
		Bool("has_cursor", opts.After != "").
		Bool("archived", opts.Archived).
		Int("properties_count", len(opts.Properties)).
		Int("associations_count", len(opts.Associations)).
		Msg("Fetching deals page")

	resp, err := s.client.Get(ctx, dealsPath, query)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, client.ErrorFromResponse(resp)
	}
	defer resp.Body.Close()

	var body dealsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode deals response: %w", err)
	}

	page := &Page{
		Deals:      body.Results,
		NextCursor: body.nextCursor(),
		Total:      body.Total,
	}

	s.logger.Info().
		Int("deals_count", len(page.Deals)).
		Bool("has_more", page.NextCursor != "").
		Dur("duration", time.Since(startTime)).
		Msg("Deals page retrieved")

	return page, nil
}

// ValidateToken checks whether the configured access token is accepted by
// the account usage endpoint.
func (s *Service) ValidateToken(ctx context.Context) (bool, error) {
	resp, err := s.client.Get(ctx, apiUsagePath, nil)
	if err != nil {
		return false, fmt.Errorf("validate token: %w", err)
	}
	defer resp.Body.Close()

	valid := resp.StatusCode == http.StatusOK
	if valid {
		s.logger.Info().Msg("Token validation successful")
	} else {
		s.logger.Warn().Int("status_code", resp.StatusCode).Msg("Token validation failed")
	}

	return valid, nil
}

// AccountInfo retrieves portal details for the configured token.
func (s *Service) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	resp, err := s.client.Get(ctx, accountInfoPath, nil)
	if err != nil {
		return nil, fmt.Errorf("account info: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, client.ErrorFromResponse(resp)
	}
	defer resp.Body.Close()

	var info AccountInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}

	s.logger.Debug().
		Int64("portal_id", info.PortalID).
		Str("account_type", info.AccountType).
		Msg("Account info retrieved")

	return &info, nil
}

// apiUsageResponse is the raw daily usage body.
type apiUsageResponse struct {
	CurrentUsage struct {
		DailyLimit     int64 `json:"dailyLimit"`
		DailyRemaining int64 `json:"dailyRemaining"`
	} `json:"currentUsage"`
}

// APIUsage retrieves the daily request budget, preferring the rate-limit
// response headers over the body when both are present.
func (s *Service) APIUsage(ctx context.Context) (*APIUsage, error) {
	resp, err := s.client.Get(ctx, apiUsagePath, nil)
	if err != nil {
		return nil, fmt.Errorf("api usage: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, client.ErrorFromResponse(resp)
	}
	defer resp.Body.Close()

	var body apiUsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode api usage: %w", err)
	}

	usage := &APIUsage{
		DailyLimit:     body.CurrentUsage.DailyLimit,
		DailyRemaining: body.CurrentUsage.DailyRemaining,
		IntervalLimit:  150,
		IntervalWindow: 10,
		Timestamp:      time.Now().UTC(),
	}

	if v := resp.Header.Get("X-HubSpot-RateLimit-Daily"); v != "" {
		if limit, err := strconv.ParseInt(v, 10, 64); err == nil {
			usage.DailyLimit = limit
		}
	}
	if v := resp.Header.Get("X-HubSpot-RateLimit-Daily-Remaining"); v != "" {
		if remaining, err := strconv.ParseInt(v, 10, 64); err == nil {
			usage.DailyRemaining = remaining
		}
	}

	s.logger.Debug().
		Int64("daily_limit", usage.DailyLimit).
		Int64("daily_remaining", usage.DailyRemaining).
		Msg("API usage retrieved")

	return usage, nil
}
