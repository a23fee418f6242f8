/*
Package upstream provides HTTP clients for the engine's collaborators.

PURPOSE:
  Thin JSON-over-HTTP adapters for the prisoner registry, the incentive
  tier lookup, and the visit registry. The engine only ever sees the
  interfaces in the engine package; these clients are wired in at startup.

  Errors are returned raw - the engine wraps them in UpstreamError with the
  collaborator's name.
*/
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gatehouse/visit-order-engine/engine"
)

// Client is a JSON-over-HTTP collaborator client.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with a sane default timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// =============================================================================
// INCENTIVES
// =============================================================================

// Incentives implements engine.IncentiveLookup.
type Incentives struct{ *Client }

func (c Incentives) Entitlement(ctx context.Context, prisonerID, prisonID string) (engine.Entitlement, error) {
	var body struct {
		VOCount  int `json:"vo_count"`
		PVOCount int `json:"pvo_count"`
	}
	path := fmt.Sprintf("/prisoners/%s/entitlement?prison=%s", url.PathEscape(prisonerID), url.QueryEscape(prisonID))
	if err := c.get(ctx, path, &body); err != nil {
		return engine.Entitlement{}, err
	}
	return engine.Entitlement{VOCount: body.VOCount, PVOCount: body.PVOCount}, nil
}

// =============================================================================
// PRISONER REGISTRY
// =============================================================================

// Prisoners implements engine.PrisonerRegistry.
type Prisoners struct{ *Client }

type prisonerBody struct {
	PrisonerID string `json:"prisoner_id"`
	PrisonID   string `json:"prison_id"`
	Status     string `json:"status"`
}

func (c Prisoners) Lookup(ctx context.Context, prisonerID string) (engine.PrisonerDetails, error) {
	var body prisonerBody
	if err := c.get(ctx, "/prisoners/"+url.PathEscape(prisonerID), &body); err != nil {
		return engine.PrisonerDetails{}, err
	}
	return engine.PrisonerDetails{PrisonerID: body.PrisonerID, PrisonID: body.PrisonID, Status: body.Status}, nil
}

func (c Prisoners) Population(ctx context.Context, prisonID string) ([]engine.PrisonerDetails, error) {
	var body []prisonerBody
	if err := c.get(ctx, "/prisons/"+url.PathEscape(prisonID)+"/prisoners", &body); err != nil {
		return nil, err
	}
	out := make([]engine.PrisonerDetails, len(body))
	for i, p := range body {
		out[i] = engine.PrisonerDetails{PrisonerID: p.PrisonerID, PrisonID: p.PrisonID, Status: p.Status}
	}
	return out, nil
}

// =============================================================================
// VISIT REGISTRY
// =============================================================================

// Visits implements engine.VisitRegistry.
type Visits struct{ *Client }

func (c Visits) Lookup(ctx context.Context, visitRef string) (engine.VisitDetails, error) {
	var body struct {
		VisitRef   string `json:"visit_ref"`
		PrisonerID string `json:"prisoner_id"`
		PrisonID   string `json:"prison_id"`
	}
	if err := c.get(ctx, "/visits/"+url.PathEscape(visitRef), &body); err != nil {
		return engine.VisitDetails{}, err
	}
	return engine.VisitDetails{VisitRef: body.VisitRef, PrisonerID: body.PrisonerID, PrisonID: body.PrisonID}, nil
}
