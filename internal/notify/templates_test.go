package notify

import (
	"strings"
	"testing"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
)

func TestTemplatesRenderEveryKind(t *testing.T) {
	tmpl := mustTemplates(t)
	kinds := []domain.NotificationKind{
		domain.NotificationOrderConfirmed,
		domain.NotificationShipped,
		domain.NotificationDelivered,
		domain.NotificationReturnProcessed,
		domain.NotificationAdminAlert,
	}
	for _, kind := range kinds {
		for _, medium := range []Medium{MediumEmail, MediumSMS} {
			got, err := tmpl.Render(kind, medium, sampleOrder())
			if err != nil {
				t.Fatalf("Render(%s, %s): %v", kind, medium, err)
			}
			if strings.TrimSpace(got.Body) == "" {
				t.Fatalf("Render(%s, %s): empty body", kind, medium)
			}
			if medium == MediumEmail && got.Subject == "" {
				t.Fatalf("Render(%s, email): empty subject", kind)
			}
			if !strings.Contains(got.Subject+got.Body, "MB-2024-000042") {
				t.Fatalf("Render(%s, %s): order number missing:\n%s", kind, medium, got.Body)
			}
		}
	}
}

func TestTemplatesShippedEmail(t *testing.T) {
	got, err := mustTemplates(t).Render(domain.NotificationShipped, MediumEmail, sampleOrder())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got.Subject != "Order MB-2024-000042 has shipped" {
		t.Fatalf("unexpected subject %q", got.Subject)
	}
	for _, want := range []string{"Namaste Meera Rathore", "Tracking number: SF123", "https://track.example/SF123"} {
		if !strings.Contains(got.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, got.Body)
		}
	}
	if strings.Contains(got.Body, "ready for the courier") {
		t.Fatalf("prepaid order must not ask for cash:\n%s", got.Body)
	}
}

func TestTemplatesCashOnDelivery(t *testing.T) {
	order := sampleOrder()
	order.Payment = domain.Payment{Method: domain.PaymentMethodCOD, Status: domain.PaymentStatusPending}

	got, err := mustTemplates(t).Render(domain.NotificationOrderConfirmed, MediumSMS, order)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "Marwari Basket: order MB-2024-000042 confirmed. Total ₹1,800, pay on delivery."
	if got.Body != want {
		t.Fatalf("sms = %q, want %q", got.Body, want)
	}
}

func TestTemplatesAdminAlertShowsLastEntry(t *testing.T) {
	got, err := mustTemplates(t).Render(domain.NotificationAdminAlert, MediumEmail, sampleOrder())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	// 06:00 UTC is 11:30 in India.
	if !strings.Contains(got.Body, "Last change: Shipped by admin:7 at 3 Jun 2024 11:30 IST") {
		t.Fatalf("unexpected alert body:\n%s", got.Body)
	}
	if !strings.Contains(got.Body, "Note: handed to courier") {
		t.Fatalf("alert should carry the note:\n%s", got.Body)
	}
}

func TestTemplatesUnknownKind(t *testing.T) {
	if _, err := mustTemplates(t).Render("birthday", MediumEmail, sampleOrder()); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := mustTemplates(t).Render(domain.NotificationShipped, "pigeon", sampleOrder()); err == nil {
		t.Fatalf("expected error for unknown medium")
	}
}

func TestNewTemplatesFallsBackOnBadLocale(t *testing.T) {
	tmpl, err := NewTemplates("", "not a locale")
	if err != nil {
		t.Fatalf("NewTemplates: %v", err)
	}
	got, err := tmpl.Render(domain.NotificationDelivered, MediumSMS, sampleOrder())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(got.Body, "Marwari Basket") {
		t.Fatalf("expected default store name, got %q", got.Body)
	}
}
