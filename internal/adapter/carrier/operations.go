package carrier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

type shipToFromPayload struct {
	Name        string `json:"name"`
	CompanyName string `json:"companyName,omitempty"`
	Address1    string `json:"addressLine1"`
	Address2    string `json:"addressLine2,omitempty"`
	City        string `json:"city"`
	State       string `json:"stateCode,omitempty"`
	PostalCode  string `json:"postalCode"`
	Country     string `json:"countryCode"`
	Phone       string `json:"phone,omitempty"`
}

func toPayload(a domain.CarrierAddress) shipToFromPayload {
	return shipToFromPayload{
		Name: a.Name, CompanyName: a.CompanyName, Address1: a.AddressLine1,
		Address2: a.AddressLine2, City: a.City, State: a.StateCode,
		PostalCode: a.PostalCode, Country: a.CountryCode, Phone: a.Phone,
	}
}

// CreateShipment submits a shipment and returns tracking numbers, label
// reference, and charge breakdown. idempotencyKey is propagated verbatim so
// a retried request against an already-created shipment is a no-op on the
// carrier's side rather than a duplicate.
func (c *Client) CreateShipment(ctx context.Context, req domain.ShipmentRequest, idempotencyKey string) (domain.ShipmentResult, error) {
	payload := map[string]any{
		"shipFrom": toPayload(req.ShipFrom),
		"shipTo":   toPayload(req.ShipTo),
		"weightOz": req.WeightOz,
		"service":  req.Service,
	}
	if req.Customs != nil {
		payload["customs"] = map[string]any{
			"hsCode":              req.Customs.HSCode,
			"declaredValueMinor":  req.Customs.DeclaredValueMinor,
			"contentsDescription": req.Customs.ContentsDescription,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.ShipmentResult{}, fmt.Errorf("op=carrier.CreateShipment.marshal: %w", err)
	}

	var out struct {
		TrackingNumbers []string `json:"trackingNumbers"`
		ShipmentID      string   `json:"shipmentId"`
		LabelRef        string   `json:"labelRef"`
		TotalCharges    int64    `json:"totalChargesMinor"`
		Breakdown       struct {
			TransportationMinor int64  `json:"transportationMinor"`
			DutiesTaxesMinor    int64  `json:"dutiesTaxesMinor"`
			Currency            string `json:"currency"`
		} `json:"breakdown"`
	}

	if err := c.doJSON(ctx, "POST", "/api/shipments/v1/ship", string(body), idempotencyKey, &out); err != nil {
		return domain.ShipmentResult{}, fmt.Errorf("op=carrier.CreateShipment: %w", err)
	}

	return domain.ShipmentResult{
		TrackingNumbers:   out.TrackingNumbers,
		ShipmentID:        out.ShipmentID,
		LabelRef:          out.LabelRef,
		TotalChargesMinor: out.TotalCharges,
		Breakdown: domain.ChargeBreakdown{
			TransportationMinor: out.Breakdown.TransportationMinor,
			DutiesTaxesMinor:    out.Breakdown.DutiesTaxesMinor,
			Currency:            out.Breakdown.Currency,
		},
	}, nil
}

// GetRate returns the single-service rate quote in minor currency units.
func (c *Client) GetRate(ctx context.Context, req domain.ShipmentRequest) (int64, error) {
	quotes, err := c.ShopRates(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("op=carrier.GetRate: %w", err)
	}
	for _, q := range quotes {
		if q.Service == req.Service {
			return q.CostMinor, nil
		}
	}
	if len(quotes) > 0 {
		return quotes[0].CostMinor, nil
	}
	return 0, fmt.Errorf("op=carrier.GetRate: %w", domain.NewTaxonomyError("E-3004", "no rate returned for lane"))
}

// ShopRates returns all available service-level quotes for a lane.
func (c *Client) ShopRates(ctx context.Context, req domain.ShipmentRequest) ([]domain.RateQuote, error) {
	payload := map[string]any{
		"shipFrom": toPayload(req.ShipFrom),
		"shipTo":   toPayload(req.ShipTo),
		"weightOz": req.WeightOz,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("op=carrier.ShopRates.marshal: %w", err)
	}

	var out struct {
		Rates []struct {
			Service     string `json:"service"`
			CostMinor   int64  `json:"costMinor"`
			TransitDays int    `json:"transitDays"`
		} `json:"rates"`
	}
	if err := c.doJSON(ctx, "POST", "/api/rating/v1/shop", string(body), "", &out); err != nil {
		return nil, fmt.Errorf("op=carrier.ShopRates: %w", err)
	}

	quotes := make([]domain.RateQuote, 0, len(out.Rates))
	for _, r := range out.Rates {
		quotes = append(quotes, domain.RateQuote{Service: r.Service, CostMinor: r.CostMinor, TransitDays: r.TransitDays})
	}
	return quotes, nil
}

// ValidateAddress checks an address against the carrier's address-validation
// service, returning candidate corrections when the input is ambiguous.
func (c *Client) ValidateAddress(ctx context.Context, addr domain.CarrierAddress) (domain.AddressValidation, error) {
	body, err := json.Marshal(toPayload(addr))
	if err != nil {
		return domain.AddressValidation{}, fmt.Errorf("op=carrier.ValidateAddress.marshal: %w", err)
	}

	var out struct {
		Status     string              `json:"status"`
		Candidates []shipToFromPayload `json:"candidates"`
	}
	if err := c.doJSON(ctx, "POST", "/api/addressvalidation/v1/validate", string(body), "", &out); err != nil {
		return domain.AddressValidation{}, fmt.Errorf("op=carrier.ValidateAddress: %w", err)
	}

	candidates := make([]domain.CarrierAddress, 0, len(out.Candidates))
	for _, c := range out.Candidates {
		candidates = append(candidates, domain.CarrierAddress{
			Name: c.Name, CompanyName: c.CompanyName, AddressLine1: c.Address1,
			AddressLine2: c.Address2, City: c.City, StateCode: c.State,
			PostalCode: c.PostalCode, CountryCode: c.Country, Phone: c.Phone,
		})
	}
	return domain.AddressValidation{Status: out.Status, Candidates: candidates}, nil
}

// VoidShipment cancels a previously created shipment identified by its
// carrier shipment id.
func (c *Client) VoidShipment(ctx context.Context, shipmentID string) error {
	path := fmt.Sprintf("/api/shipments/v1/void/%s", shipmentID)
	if err := c.doJSON(ctx, "DELETE", path, "", "", nil); err != nil {
		return fmt.Errorf("op=carrier.VoidShipment shipment_id=%s: %w", shipmentID, err)
	}
	return nil
}

// LookupShipment resolves a shipment by idempotency key or carrier shipment
// id during crash recovery. ok=false with a nil error means the carrier has
// no record of the shipment at all.
func (c *Client) LookupShipment(ctx context.Context, idempotencyKey, shipmentID string) (domain.ShipmentResult, bool, error) {
	path := fmt.Sprintf("/api/shipments/v1/lookup?idempotencyKey=%s&shipmentId=%s", idempotencyKey, shipmentID)

	var out struct {
		Found           bool     `json:"found"`
		TrackingNumbers []string `json:"trackingNumbers"`
		ShipmentID      string   `json:"shipmentId"`
		LabelRef        string   `json:"labelRef"`
		TotalCharges    int64    `json:"totalChargesMinor"`
	}
	if err := c.doJSON(ctx, "GET", path, "", "", &out); err != nil {
		return domain.ShipmentResult{}, false, fmt.Errorf("op=carrier.LookupShipment: %w", err)
	}
	if !out.Found {
		return domain.ShipmentResult{}, false, nil
	}
	return domain.ShipmentResult{
		TrackingNumbers:   out.TrackingNumbers,
		ShipmentID:        out.ShipmentID,
		LabelRef:          out.LabelRef,
		TotalChargesMinor: out.TotalCharges,
	}, true, nil
}
