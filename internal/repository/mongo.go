package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/GrowPals/cartsync/internal/domain"
)

type mongoRepository struct {
	carts    *mongo.Collection
	products *mongo.Collection
	log      *zap.Logger
}

// NewMongoRepository returns a CartRepository over a carts collection
// with embedded item arrays and a products catalog collection.
func NewMongoRepository(db *mongo.Database, log *zap.Logger) CartRepository {
	return &mongoRepository{
		carts:    db.Collection("carts"),
		products: db.Collection("products"),
		log:      log,
	}
}

type productDoc struct {
	ID        string  `bson:"_id"`
	Name      string  `bson:"name"`
	UnitPrice float64 `bson:"unit_price"`
	IsActive  bool    `bson:"is_active"`
}

func (m *mongoRepository) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	var cart domain.Cart

	filter := bson.M{"owner_id": ownerID}
	err := m.carts.FindOne(ctx, filter).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return nil, ErrCartNotFound
	}

	ids := make([]string, len(cart.Items))
	for i, item := range cart.Items {
		ids[i] = item.ProductID
	}

	cursor, err := m.products.Find(ctx, bson.M{
		"_id":       bson.M{"$in": ids},
		"is_active": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read products: %w", err)
	}
	byID := make(map[string]productDoc, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	// Re-snapshot names and unit prices from the catalog; drop lines
	// whose product disappeared or was deactivated.
	kept := cart.Items[:0]
	var pruned []string
	for _, item := range cart.Items {
		d, ok := byID[item.ProductID]
		if !ok {
			pruned = append(pruned, item.ProductID)
			continue
		}
		item.Name = d.Name
		item.UnitPrice = d.UnitPrice
		kept = append(kept, item)
	}
	cart.Items = kept

	if len(pruned) > 0 {
		m.log.Warn("pruning unavailable products from cart",
			zap.String("owner_id", ownerID), zap.Strings("product_ids", pruned))
		update := bson.M{
			"$pull": bson.M{"items": bson.M{"product_id": bson.M{"$in": pruned}}},
			"$set":  bson.M{"updated_at": time.Now()},
		}
		if _, err := m.carts.UpdateOne(ctx, filter, update); err != nil {
			m.log.Error("failed to prune cart items", zap.Error(err))
		}
	}

	if len(cart.Items) == 0 {
		return nil, ErrCartNotFound
	}
	return &cart, nil
}

func (m *mongoRepository) UpsertItem(ctx context.Context, ownerID, productID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	var product productDoc
	err := m.products.FindOne(ctx, bson.M{"_id": productID}).Decode(&product)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrItemUnavailable
	}
	if err != nil {
		return fmt.Errorf("failed to check product: %w", err)
	}
	if !product.IsActive {
		return ErrItemUnavailable
	}

	now := time.Now()
	filter := bson.M{"owner_id": ownerID}

	var existing domain.Cart
	err = m.carts.FindOne(ctx, filter).Decode(&existing)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("failed to check existing cart: %w", err)
		}
		cart := domain.Empty(ownerID)
		cart.Items = []domain.CartItem{{
			ProductID: productID,
			Name:      product.Name,
			Quantity:  quantity,
			UnitPrice: product.UnitPrice,
			AddedAt:   now,
		}}
		if _, err := m.carts.InsertOne(ctx, cart); err != nil {
			return fmt.Errorf("failed to create cart with item: %w", err)
		}
		return nil
	}

	if _, ok := existing.Item(productID); ok {
		update := bson.M{
			"$set": bson.M{
				"items.$[elem].quantity": quantity,
				"updated_at":             now,
			},
		}
		arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"elem.product_id": productID}},
		})
		if _, err := m.carts.UpdateOne(ctx, filter, update, arrayFilters); err != nil {
			return fmt.Errorf("failed to update existing item: %w", err)
		}
		return nil
	}

	update := bson.M{
		"$push": bson.M{"items": domain.CartItem{
			ProductID: productID,
			Name:      product.Name,
			Quantity:  quantity,
			UnitPrice: product.UnitPrice,
			AddedAt:   now,
		}},
		"$set": bson.M{"updated_at": now},
	}
	if _, err := m.carts.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to add new item: %w", err)
	}
	return nil
}

func (m *mongoRepository) RemoveItem(ctx context.Context, ownerID, productID string) error {
	filter := bson.M{"owner_id": ownerID}
	update := bson.M{
		"$pull": bson.M{"items": bson.M{"product_id": productID}},
		"$set":  bson.M{"updated_at": time.Now()},
	}

	// Idempotent: a missing cart or absent line is not an error.
	_, err := m.carts.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	return nil
}

func (m *mongoRepository) ClearCart(ctx context.Context, ownerID string) error {
	_, err := m.carts.DeleteOne(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// CreateIndexes sets up the unique owner index and a TTL on stale carts.
func (m *mongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days
		},
	}

	_, err := m.carts.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// ConnectMongoDB dials MongoDB and verifies the connection.
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}
