package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fjod/go_cart_saga/cart-service/internal/domain"
)

type MongoRepository struct {
	collection *mongo.Collection
	ttl        time.Duration
}

// cartDocument is the stored shape of a cart. Money is kept as decimal
// strings; the summary is not stored because it is derived.
type cartDocument struct {
	ID             string         `bson:"_id"`
	Items          []itemDocument `bson:"items"`
	Address        *addressDoc    `bson:"address,omitempty"`
	Shipping       *shippingDoc   `bson:"shipping,omitempty"`
	Coupon         *couponDoc     `bson:"coupon,omitempty"`
	ReservationID  string         `bson:"reservation_id,omitempty"`
	PaymentOrderID string         `bson:"payment_order_id,omitempty"`
	CreatedAt      time.Time      `bson:"created_at"`
	UpdatedAt      time.Time      `bson:"updated_at"`
}

type itemDocument struct {
	ProductID  string            `bson:"product_id"`
	VariantID  string            `bson:"variant_id,omitempty"`
	Quantity   int               `bson:"quantity"`
	UnitPrice  string            `bson:"unit_price"`
	Title      string            `bson:"title"`
	Attributes map[string]string `bson:"attributes,omitempty"`
}

type addressDoc struct {
	Name       string `bson:"name"`
	Line1      string `bson:"line1"`
	Line2      string `bson:"line2,omitempty"`
	City       string `bson:"city"`
	Region     string `bson:"region,omitempty"`
	PostalCode string `bson:"postal_code"`
	Country    string `bson:"country"`
}

type shippingDoc struct {
	MethodID string `bson:"method_id"`
	Label    string `bson:"label"`
	Cost     string `bson:"cost"`
}

type couponDoc struct {
	Code  string `bson:"code"`
	Type  string `bson:"type"`
	Value string `bson:"value"`
}

func toDocument(c *domain.Cart) cartDocument {
	doc := cartDocument{
		ID:             c.ID,
		Items:          make([]itemDocument, 0, len(c.Items)),
		ReservationID:  c.ReservationID,
		PaymentOrderID: c.PaymentOrderID,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	for _, li := range c.Items {
		doc.Items = append(doc.Items, itemDocument{
			ProductID:  li.ProductID,
			VariantID:  li.VariantID,
			Quantity:   li.Quantity,
			UnitPrice:  li.UnitPrice.String(),
			Title:      li.Title,
			Attributes: li.Attributes,
		})
	}
	if a := c.Address; a != nil {
		doc.Address = &addressDoc{a.Name, a.Line1, a.Line2, a.City, a.Region, a.PostalCode, a.Country}
	}
	if s := c.Shipping; s != nil {
		doc.Shipping = &shippingDoc{MethodID: s.MethodID, Label: s.Label, Cost: s.Cost.String()}
	}
	if cp := c.Coupon; cp != nil {
		doc.Coupon = &couponDoc{Code: cp.Code, Type: string(cp.Type), Value: cp.Value.String()}
	}
	return doc
}

func (doc cartDocument) toDomain() (*domain.Cart, error) {
	c := &domain.Cart{
		ID:             doc.ID,
		Items:          make([]domain.LineItem, 0, len(doc.Items)),
		ReservationID:  doc.ReservationID,
		PaymentOrderID: doc.PaymentOrderID,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	for _, it := range doc.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("cart %s: bad unit price %q: %w", doc.ID, it.UnitPrice, err)
		}
		c.Items = append(c.Items, domain.LineItem{
			ProductID:  it.ProductID,
			VariantID:  it.VariantID,
			Quantity:   it.Quantity,
			UnitPrice:  price,
			Title:      it.Title,
			Attributes: it.Attributes,
		})
	}
	if a := doc.Address; a != nil {
		c.Address = &domain.Address{Name: a.Name, Line1: a.Line1, Line2: a.Line2, City: a.City, Region: a.Region, PostalCode: a.PostalCode, Country: a.Country}
	}
	if s := doc.Shipping; s != nil {
		cost, err := decimal.NewFromString(s.Cost)
		if err != nil {
			return nil, fmt.Errorf("cart %s: bad shipping cost: %w", doc.ID, err)
		}
		c.Shipping = &domain.ShippingSelection{MethodID: s.MethodID, Label: s.Label, Cost: cost}
	}
	if cp := doc.Coupon; cp != nil {
		value, err := decimal.NewFromString(cp.Value)
		if err != nil {
			return nil, fmt.Errorf("cart %s: bad coupon value: %w", doc.ID, err)
		}
		c.Coupon = &domain.AppliedCoupon{Code: cp.Code, Type: domain.DiscountType(cp.Type), Value: value}
	}
	c.Recompute()
	return c, nil
}

func (m *MongoRepository) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	var doc cartDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": cartID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return doc.toDomain()
}

func (m *MongoRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	doc := toDocument(cart)
	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": cart.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

func (m *MongoRepository) DeleteCart(ctx context.Context, cartID string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"_id": cartID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

// CreateIndexes installs the TTL index that expires abandoned carts.
func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(m.ttl.Seconds())),
		},
		{
			Keys:    bson.D{{Key: "reservation_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// NewMongoRepository stores carts in collection; carts untouched for ttl are
// removed by the server.
func NewMongoRepository(db *mongo.Database, collection string, ttl time.Duration) *MongoRepository {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &MongoRepository{
		collection: db.Collection(collection),
		ttl:        ttl,
	}
}
