package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	pfirestore "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/firestore"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders in Firestore. Mutations run in transactions, which Firestore
// retries on contention, so every committed write is based on the latest stored version.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	now      func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		now:      time.Now,
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	if order.Version == 0 {
		order.Version = 1
	}
	ref, err := r.orders.Ref(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

func (r *OrderRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.by_transaction", "payment.transactionId", transactionID)
}

func (r *OrderRepository) FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Order, error) {
	return r.findOne(ctx, "orders.by_tracking", "tracking.number", trackingNumber)
}

func (r *OrderRepository) findOne(ctx context.Context, op, path, value string) (domain.Order, error) {
	key := strings.TrimSpace(value)
	if key == "" {
		return domain.Order{}, pfirestore.NotFound(op, fmt.Errorf("%s is required", path))
	}
	docs, err := r.orders.Find(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(path, "==", key).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NotFound(op, fmt.Errorf("no order with %s %s", path, key))
	}
	return decodeOrder(docs[0].ID, docs[0].Data), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		statuses = append(statuses, string(status))
	}
	limit := repositories.NormalizeLimit(filter.Limit)
	docs, err := r.orders.Find(ctx, func(q firestore.Query) firestore.Query {
		switch len(statuses) {
		case 0:
		case 1:
			q = q.Where("status", "==", statuses[0])
		default:
			q = q.Where("status", "in", statuses)
		}
		return q.OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeOrder(doc.ID, doc.Data))
	}
	return out, nil
}

func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.MutateFunc) (domain.Order, error) {
	if fn == nil {
		return domain.Order{}, errors.New("order repository: mutate function is required")
	}
	id := strings.TrimSpace(orderID)
	ref, err := r.orders.Ref(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	var (
		result domain.Order
		fnErr  error
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		fnErr = nil
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := r.orders.Decode(snapshot)
		if err != nil {
			return err
		}
		current := decodeOrder(id, doc.Data)
		working := current.Clone()
		if err := fn(&working); err != nil {
			if errors.Is(err, repositories.ErrSkipWrite) {
				result = current
				return nil
			}
			fnErr = err
			return err
		}
		working.ID = id
		working.Version = current.Version + 1
		if working.UpdatedAt.IsZero() || !working.UpdatedAt.After(current.UpdatedAt) {
			working.UpdatedAt = r.now().UTC()
		}
		if err := tx.Set(ref, encodeOrder(working)); err != nil {
			return err
		}
		result = working
		return nil
	})
	if fnErr != nil {
		return domain.Order{}, fnErr
	}
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

type orderDocument struct {
	Number          string              `firestore:"number,omitempty"`
	CustomerID      string              `firestore:"customerId,omitempty"`
	Items           []orderItemDocument `firestore:"items"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	BillingAddress  addressDocument     `firestore:"billingAddress"`
	ShippingMethod  string              `firestore:"shippingMethod"`
	Payment         paymentDocument     `firestore:"payment"`
	Status          string              `firestore:"status"`
	History         []historyDocument   `firestore:"history"`
	Tracking        trackingDocument    `firestore:"tracking"`
	Fulfillment     fulfillmentDocument `firestore:"fulfillment"`
	Subtotal        int64               `firestore:"subtotal"`
	DeliveryCharge  int64               `firestore:"deliveryCharge"`
	Total           int64               `firestore:"total"`
	Currency        string              `firestore:"currency"`
	Return          returnDocument      `firestore:"return"`
	Version         int64               `firestore:"version"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId,omitempty"`
	SKU       string `firestore:"sku,omitempty"`
	Name      string `firestore:"name,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
}

type addressDocument struct {
	Name       string `firestore:"name,omitempty"`
	Phone      string `firestore:"phone,omitempty"`
	Email      string `firestore:"email,omitempty"`
	Line1      string `firestore:"line1,omitempty"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city,omitempty"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
}

type paymentDocument struct {
	Method        string `firestore:"method"`
	Status        string `firestore:"status"`
	TransactionID string `firestore:"transactionId,omitempty"`
}

type historyDocument struct {
	ID     string    `firestore:"id,omitempty"`
	Status string    `firestore:"status"`
	Note   string    `firestore:"note,omitempty"`
	Source string    `firestore:"source,omitempty"`
	Actor  string    `firestore:"actor,omitempty"`
	At     time.Time `firestore:"at"`
}

type trackingDocument struct {
	Carrier string `firestore:"carrier,omitempty"`
	Number  string `firestore:"number,omitempty"`
	URL     string `firestore:"url,omitempty"`
}

type fulfillmentDocument struct {
	PackingSlipRef  string `firestore:"packingSlipRef,omitempty"`
	LabelRef        string `firestore:"labelRef,omitempty"`
	ShipmentPending bool   `firestore:"shipmentPending"`
}

type returnDocument struct {
	Requested    bool       `firestore:"requested"`
	Reason       string     `firestore:"reason,omitempty"`
	RefundStatus string     `firestore:"refundStatus"`
	RefundAmount int64      `firestore:"refundAmount"`
	RefundID     string     `firestore:"refundId,omitempty"`
	RequestedAt  *time.Time `firestore:"requestedAt,omitempty"`
	ProcessedAt  *time.Time `firestore:"processedAt,omitempty"`
}

func encodeOrder(o domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemDocument(item))
	}
	history := make([]historyDocument, 0, len(o.History))
	for _, entry := range o.History {
		history = append(history, historyDocument{
			ID:     entry.ID,
			Status: string(entry.Status),
			Note:   entry.Note,
			Source: string(entry.Source),
			Actor:  entry.Actor,
			At:     entry.At.UTC(),
		})
	}
	return orderDocument{
		Number:          o.Number,
		CustomerID:      o.CustomerID,
		Items:           items,
		ShippingAddress: addressDocument(o.ShippingAddress),
		BillingAddress:  addressDocument(o.BillingAddress),
		ShippingMethod:  string(o.ShippingMethod),
		Payment: paymentDocument{
			Method:        string(o.Payment.Method),
			Status:        string(o.Payment.Status),
			TransactionID: o.Payment.TransactionID,
		},
		Status:         string(o.Status),
		History:        history,
		Tracking:       trackingDocument(o.Tracking),
		Fulfillment:    fulfillmentDocument(o.Fulfillment),
		Subtotal:       o.Subtotal,
		DeliveryCharge: o.DeliveryCharge,
		Total:          o.Total,
		Currency:       o.Currency,
		Return: returnDocument{
			Requested:    o.Return.Requested,
			Reason:       o.Return.Reason,
			RefundStatus: string(o.Return.RefundStatus),
			RefundAmount: o.Return.RefundAmount,
			RefundID:     o.Return.RefundID,
			RequestedAt:  o.Return.RequestedAt,
			ProcessedAt:  o.Return.ProcessedAt,
		},
		Version:   o.Version,
		CreatedAt: o.CreatedAt.UTC(),
		UpdatedAt: o.UpdatedAt.UTC(),
	}
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem(item))
	}
	history := make([]domain.StatusHistoryEntry, 0, len(doc.History))
	for _, entry := range doc.History {
		history = append(history, domain.StatusHistoryEntry{
			ID:     entry.ID,
			Status: domain.OrderStatus(entry.Status),
			Note:   entry.Note,
			Source: domain.TransitionSource(entry.Source),
			Actor:  entry.Actor,
			At:     entry.At.UTC(),
		})
	}
	refundStatus := domain.RefundStatus(doc.Return.RefundStatus)
	if refundStatus == "" {
		refundStatus = domain.RefundStatusNone
	}
	return domain.Order{
		ID:              id,
		Number:          doc.Number,
		CustomerID:      doc.CustomerID,
		Items:           items,
		ShippingAddress: domain.Address(doc.ShippingAddress),
		BillingAddress:  domain.Address(doc.BillingAddress),
		ShippingMethod:  domain.ShippingMethod(doc.ShippingMethod),
		Payment: domain.Payment{
			Method:        domain.PaymentMethod(doc.Payment.Method),
			Status:        domain.PaymentStatus(doc.Payment.Status),
			TransactionID: doc.Payment.TransactionID,
		},
		Status:         domain.OrderStatus(doc.Status),
		History:        history,
		Tracking:       domain.Tracking(doc.Tracking),
		Fulfillment:    domain.Fulfillment(doc.Fulfillment),
		Subtotal:       doc.Subtotal,
		DeliveryCharge: doc.DeliveryCharge,
		Total:          doc.Total,
		Currency:       doc.Currency,
		Return: domain.ReturnInfo{
			Requested:    doc.Return.Requested,
			Reason:       doc.Return.Reason,
			RefundStatus: refundStatus,
			RefundAmount: doc.Return.RefundAmount,
			RefundID:     doc.Return.RefundID,
			RequestedAt:  doc.Return.RequestedAt,
			ProcessedAt:  doc.Return.ProcessedAt,
		},
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
}
