package notify

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var indiaTime = time.FixedZone("IST", 5*60*60+30*60)

var currencySymbols = map[string]string{
	"INR": "₹",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// Medium identifies how a message reaches its recipient.
type Medium string

const (
	MediumEmail Medium = "email"
	MediumSMS   Medium = "sms"
)

// Rendered is a message ready for a channel.
type Rendered struct {
	Subject string
	Body    string
}

// TemplateData is everything a template may reference. It is derived from the order snapshot only.
type TemplateData struct {
	StoreName      string
	Kind           domain.NotificationKind
	Order          domain.Order
	LastEntry      *domain.StatusHistoryEntry
	CashOnDelivery bool
}

// Templates renders notification messages keyed by kind and medium.
type Templates struct {
	set       *template.Template
	storeName string
}

// NewTemplates parses the embedded templates. locale drives number grouping and title casing;
// an empty or invalid locale falls back to en-IN.
func NewTemplates(storeName, locale string) (*Templates, error) {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil || strings.TrimSpace(locale) == "" {
		tag = language.MustParse("en-IN")
	}
	printer := message.NewPrinter(tag)
	caser := cases.Title(tag)

	funcs := template.FuncMap{
		"money": func(amount int64, currency string) string {
			code := strings.ToUpper(strings.TrimSpace(currency))
			if symbol, ok := currencySymbols[code]; ok {
				return printer.Sprintf("%s%d", symbol, amount)
			}
			return printer.Sprintf("%s %d", code, amount)
		},
		"title": func(v any) string {
			return caser.String(strings.ReplaceAll(fmt.Sprint(v), "_", " "))
		},
		"date": func(t time.Time) string {
			return t.In(indiaTime).Format("2 Jan 2006")
		},
		"datetime": func(t time.Time) string {
			return t.In(indiaTime).Format("2 Jan 2006 15:04 MST")
		},
	}
	set, err := template.New("notify").Funcs(funcs).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("notify: parse templates: %w", err)
	}
	name := strings.TrimSpace(storeName)
	if name == "" {
		name = "Marwari Basket"
	}
	return &Templates{set: set, storeName: name}, nil
}

// Render executes the templates for kind over medium.
func (t *Templates) Render(kind domain.NotificationKind, medium Medium, order domain.Order) (Rendered, error) {
	data := TemplateData{
		StoreName:      t.storeName,
		Kind:           kind,
		Order:          order,
		CashOnDelivery: order.Payment.Method == domain.PaymentMethodCOD && order.Payment.Status != domain.PaymentStatusRefunded,
	}
	if last, ok := order.LastHistory(); ok {
		data.LastEntry = &last
	}

	switch medium {
	case MediumEmail:
		subject, err := t.execute(string(kind)+".email.subject", data)
		if err != nil {
			return Rendered{}, err
		}
		body, err := t.execute(string(kind)+".email.body", data)
		if err != nil {
			return Rendered{}, err
		}
		return Rendered{Subject: strings.TrimSpace(subject), Body: body}, nil
	case MediumSMS:
		body, err := t.execute(string(kind)+".sms", data)
		if err != nil {
			return Rendered{}, err
		}
		return Rendered{Body: strings.TrimSpace(body)}, nil
	default:
		return Rendered{}, fmt.Errorf("notify: unsupported medium %q", medium)
	}
}

func (t *Templates) execute(name string, data TemplateData) (string, error) {
	tmpl := t.set.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("notify: template %q not found", name)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", name, err)
	}
	return sb.String(), nil
}
