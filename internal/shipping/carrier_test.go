package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

func newTestCarrier(t *testing.T, handler http.HandlerFunc) *HTTPCarrier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	carrier, err := NewHTTPCarrier(HTTPCarrierConfig{Name: "shipfast", BaseURL: srv.URL + "/", APIKey: "key_123", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewHTTPCarrier: %v", err)
	}
	return carrier
}

func TestHTTPCarrierCreateShipment(t *testing.T) {
	var got shipmentRequestBody
	carrier := newTestCarrier(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/shipments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key_123" {
			t.Errorf("missing bearer token")
		}
		if r.Header.Get("Idempotency-Key") != "shipment:ord_1" {
			t.Errorf("unexpected idempotency key %q", r.Header.Get("Idempotency-Key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"trackingNumber":"SF123","trackingUrl":"https://track.example/SF123"}`))
	})

	receipt, err := carrier.CreateShipment(context.Background(), services.ShipmentRequest{
		OrderID:        "ord_1",
		OrderNumber:    "MB-2025-000001",
		Method:         domain.ShippingMethodExpress,
		Address:        domain.Address{Name: "Meera", Phone: "+91980", Line1: "12 Sardarpura", City: "Jodhpur", PostalCode: "342003"},
		Items:          []domain.OrderItem{{SKU: "KACHRI-250", Name: "Kachri masala", Quantity: 2}},
		CashOnDelivery: 700,
		IdempotencyKey: "shipment:ord_1",
	})
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	if receipt.TrackingNumber != "SF123" || receipt.Carrier != "shipfast" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if got.Reference != "ord_1" || got.Service != "express" || got.CODAmount != 700 || len(got.Items) != 1 {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestHTTPCarrierTrack(t *testing.T) {
	carrier := newTestCarrier(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/shipments/SF123/tracking" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"IN_TRANSIT","location":"Ajmer hub","estimatedDelivery":"2025-03-04T00:00:00Z","updatedAt":"2025-03-02T10:00:00+05:30"}`))
	})

	status, err := carrier.Track(context.Background(), "SF123")
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if status.Status != "in_transit" || status.Location != "Ajmer hub" || status.TrackingNumber != "SF123" {
		t.Fatalf("unexpected status %+v", status)
	}
	if want := time.Date(2025, 3, 2, 4, 30, 0, 0, time.UTC); !status.UpdatedAt.Equal(want) || status.UpdatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC update time %v, got %v", want, status.UpdatedAt)
	}
	if status.EstimatedDelivery == nil {
		t.Fatalf("expected eta")
	}
}

func TestHTTPCarrierErrors(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		rejected bool
	}{
		{name: "bad address", status: http.StatusUnprocessableEntity, rejected: true},
		{name: "throttled", status: http.StatusTooManyRequests, rejected: false},
		{name: "outage", status: http.StatusServiceUnavailable, rejected: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			carrier := newTestCarrier(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"failed","message":"pincode not serviceable"}`))
			})
			_, err := carrier.CreateShipment(context.Background(), services.ShipmentRequest{OrderID: "ord_1"})
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tc.status {
				t.Fatalf("expected APIError %d, got %v", tc.status, err)
			}
			if apiErr.Message != "pincode not serviceable" {
				t.Fatalf("unexpected message %q", apiErr.Message)
			}
			if got := errors.Is(err, ErrShipmentRejected); got != tc.rejected {
				t.Fatalf("rejected=%v want %v", got, tc.rejected)
			}
		})
	}
}

func TestHTTPCarrierMissingTrackingNumber(t *testing.T) {
	carrier := newTestCarrier(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	if _, err := carrier.CreateShipment(context.Background(), services.ShipmentRequest{OrderID: "ord_1"}); err == nil {
		t.Fatalf("expected error for empty tracking number")
	}
}

func TestNewHTTPCarrierValidatesConfig(t *testing.T) {
	if _, err := NewHTTPCarrier(HTTPCarrierConfig{APIKey: "k"}); err == nil {
		t.Fatalf("expected error without base url")
	}
	if _, err := NewHTTPCarrier(HTTPCarrierConfig{BaseURL: "not a url", APIKey: "k"}); err == nil {
		t.Fatalf("expected error for invalid base url")
	}
	if _, err := NewHTTPCarrier(HTTPCarrierConfig{BaseURL: "https://api.example"}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestSandboxCarrierReusesBooking(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	carrier := NewSandboxCarrier(func() time.Time { return now })
	req := services.ShipmentRequest{OrderID: "ord_1", IdempotencyKey: "shipment:ord_1"}

	first, err := carrier.CreateShipment(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	second, err := carrier.CreateShipment(context.Background(), req)
	if err != nil {
		t.Fatalf("repeat CreateShipment: %v", err)
	}
	if first != second || first.TrackingNumber != "SBX00000001" {
		t.Fatalf("expected the same booking, got %+v and %+v", first, second)
	}
	status, err := carrier.Track(context.Background(), first.TrackingNumber)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if status.Status != "in_transit" {
		t.Fatalf("unexpected status %+v", status)
	}
	if _, err := carrier.Track(context.Background(), "nope"); !errors.Is(err, ErrShipmentRejected) {
		t.Fatalf("expected rejection for unknown tracking number, got %v", err)
	}
}
