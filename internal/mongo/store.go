package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if s.transactions {
		return s.inSession(ctx, fn)
	}
	return s.inSaga(ctx, fn)
}

func (s *Store) inSession(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer sess.EndSession(ctx)

	// The session context carries the transaction into every call made with it.
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc, &tx{s: s})
	})
	return err
}

// inSaga runs fn without a transaction. Each write registers its inverse and
// a failing unit replays them newest first.
func (s *Store) inSaga(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	t := &tx{s: s, saga: true}
	err := fn(ctx, t)
	if err == nil {
		return nil
	}

	// The caller's context may already be cancelled; compensation must still run.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var undoErr error
	var stranded []orders.LineQty
	for i := len(t.undo) - 1; i >= 0; i-- {
		u := t.undo[i]
		if uerr := u.fn(cctx); uerr != nil {
			undoErr = multierr.Append(undoErr, uerr)
			stranded = append(stranded, u.lines...)
		}
	}
	if undoErr != nil {
		s.log.Error("saga compensation failed", zap.Error(undoErr), zap.NamedError("cause", err))
		return &orders.ConsistencyFaultError{Lines: stranded, Cause: multierr.Append(err, undoErr)}
	}
	return err
}

func (s *Store) Items(ctx context.Context, skus []string) (map[string]orders.InventoryItem, error) {
	return s.findItems(ctx, skus)
}

func (s *Store) LowStock(ctx context.Context) ([]orders.InventoryItem, error) {
	filter := bson.M{
		"is_active": true,
		"$expr":     bson.M{"$lte": bson.A{"$stock", "$reorder_level"}},
	}
	cur, err := s.items.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing low stock: %w", err)
	}
	defer cur.Close(ctx)

	var docs []itemDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding low stock: %w", err)
	}
	out := make([]orders.InventoryItem, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *Store) UpsertItem(ctx context.Context, it orders.InventoryItem) error {
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = time.Now()
	}
	update := bson.M{
		"$set": bson.M{
			"name": it.Name, "category": it.Category, "price_cents": it.PriceCents, "stock": it.Stock,
			"reorder_level": it.ReorderLevel, "max_stock": it.MaxStock, "is_active": it.Active, "updated_at": it.UpdatedAt,
		},
		"$setOnInsert": bson.M{"total_sold": it.TotalSold},
	}
	_, err := s.items.UpdateByID(ctx, it.SKU, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting item %s: %w", it.SKU, err)
	}
	return nil
}

// RestoreStock applies every line even if some fail; the failures are combined.
func (s *Store) RestoreStock(ctx context.Context, lines []orders.LineQty) error {
	var errs error
	for _, l := range lines {
		errs = multierr.Append(errs, s.increment(ctx, l.SKU, l.Qty))
	}
	return errs
}

func (s *Store) Order(ctx context.Context, orderID string) (*orders.Order, error) {
	return s.findOrder(ctx, bson.M{"order_id": orderID})
}

func (s *Store) OrderByPaymentRef(ctx context.Context, ref string) (*orders.Order, error) {
	return s.findOrder(ctx, bson.M{"payment_reference": ref})
}

func (s *Store) TransitionOrder(ctx context.Context, orderID string, from orders.Status, p orders.Patch) (bool, error) {
	return s.transition(ctx, orderID, from, p)
}

func (s *Store) DeliveredOrders(ctx context.Context, from, to time.Time) ([]orders.Order, error) {
	filter := bson.M{"status": string(orders.StatusDelivered)}
	window := bson.M{}
	if !from.IsZero() {
		window["$gte"] = from
	}
	if !to.IsZero() {
		window["$lte"] = to
	}
	if len(window) > 0 {
		filter["delivered_at"] = window
	}

	opts := options.Find().SetSort(bson.D{{Key: "delivered_at", Value: 1}, {Key: "order_id", Value: 1}})
	cur, err := s.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing delivered orders: %w", err)
	}
	defer cur.Close(ctx)

	var docs []orderDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding delivered orders: %w", err)
	}
	out := make([]orders.Order, 0, len(docs))
	for _, d := range docs {
		out = append(out, *d.model())
	}
	return out, nil
}

func (s *Store) Agent(ctx context.Context, key string) (*orders.Agent, error) {
	var d agentDocument
	err := s.agents.FindOne(ctx, bson.M{"_id": key}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, orders.ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent: %w", err)
	}
	a := d.model()
	return &a, nil
}

func (s *Store) Agents(ctx context.Context) ([]orders.Agent, error) {
	cur, err := s.agents.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer cur.Close(ctx)

	var docs []agentDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding agents: %w", err)
	}
	out := make([]orders.Agent, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *Store) UpsertAgent(ctx context.Context, a orders.Agent) error {
	doc := agentDocument{Key: a.Key, Name: a.Name, Phone: a.Phone, Email: a.Email, VehicleType: a.VehicleType, Active: a.Active}
	_, err := s.agents.ReplaceOne(ctx, bson.M{"_id": a.Key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting agent %s: %w", a.Key, err)
	}
	return nil
}

// InsertLegacyOrder writes an order as-is, bypassing the engine.
func (s *Store) InsertLegacyOrder(ctx context.Context, o *orders.Order) error {
	return s.insertOrder(ctx, o)
}

type undo struct {
	fn    func(ctx context.Context) error
	lines []orders.LineQty
}

type tx struct {
	s    *Store
	saga bool
	undo []undo
}

func (t *tx) record(fn func(ctx context.Context) error, lines ...orders.LineQty) {
	if t.saga {
		t.undo = append(t.undo, undo{fn: fn, lines: lines})
	}
}

// LockItems is a plain read. Inside a transaction a concurrent write to the
// same document aborts one side with a write conflict; in saga mode the
// guarded decrement is the only protection.
func (t *tx) LockItems(ctx context.Context, skus []string) (map[string]orders.InventoryItem, error) {
	return t.s.findItems(ctx, skus)
}

func (t *tx) Decrement(ctx context.Context, sku string, qty int) (bool, error) {
	res, err := t.s.items.UpdateOne(ctx,
		bson.M{"_id": sku, "stock": bson.M{"$gte": qty}},
		bson.M{
			"$inc": bson.M{"stock": -qty, "total_sold": qty},
			"$set": bson.M{"updated_at": time.Now()},
		})
	if err != nil {
		return false, fmt.Errorf("decrementing stock: %w", err)
	}
	if res.MatchedCount != 1 {
		return false, nil
	}
	t.record(func(ctx context.Context) error {
		_, err := t.s.items.UpdateByID(ctx, sku, bson.M{
			"$inc": bson.M{"stock": qty, "total_sold": -qty},
			"$set": bson.M{"updated_at": time.Now()},
		})
		if err != nil {
			return fmt.Errorf("compensating %s: %w", sku, err)
		}
		return nil
	}, orders.LineQty{SKU: sku, Qty: qty})
	return true, nil
}

func (t *tx) Increment(ctx context.Context, sku string, qty int) error {
	if err := t.s.increment(ctx, sku, qty); err != nil {
		return err
	}
	t.record(func(ctx context.Context) error {
		res, err := t.s.items.UpdateOne(ctx,
			bson.M{"_id": sku, "stock": bson.M{"$gte": qty}},
			bson.M{"$inc": bson.M{"stock": -qty}, "$set": bson.M{"updated_at": time.Now()}})
		if err != nil {
			return fmt.Errorf("compensating release of %s: %w", sku, err)
		}
		if res.MatchedCount != 1 {
			return fmt.Errorf("compensating release of %s: stock already consumed", sku)
		}
		return nil
	})
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	if err := t.s.insertOrder(ctx, o); err != nil {
		return err
	}
	id := o.ID
	t.record(func(ctx context.Context) error {
		_, err := t.s.orders.DeleteOne(ctx, bson.M{"_id": id})
		return err
	})
	return nil
}

func (t *tx) TransitionOrder(ctx context.Context, orderID string, from orders.Status, p orders.Patch) (bool, error) {
	ok, err := t.s.transition(ctx, orderID, from, p)
	if err != nil || !ok {
		return ok, err
	}
	to := p.Status
	t.record(func(ctx context.Context) error {
		_, err := t.s.orders.UpdateOne(ctx,
			bson.M{"order_id": orderID, "status": string(to)},
			bson.M{"$set": bson.M{"status": string(from), "updated_at": time.Now()}})
		return err
	})
	return true, nil
}

func (s *Store) findItems(ctx context.Context, skus []string) (map[string]orders.InventoryItem, error) {
	out := make(map[string]orders.InventoryItem, len(skus))
	if len(skus) == 0 {
		return out, nil
	}
	cur, err := s.items.Find(ctx, bson.M{"_id": bson.M{"$in": skus}})
	if err != nil {
		return nil, fmt.Errorf("selecting items: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var d itemDocument
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("decoding item: %w", err)
		}
		out[d.SKU] = d.model()
	}
	return out, cur.Err()
}

func (s *Store) increment(ctx context.Context, sku string, qty int) error {
	res, err := s.items.UpdateByID(ctx, sku, bson.M{
		"$inc": bson.M{"stock": qty},
		"$set": bson.M{"updated_at": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("incrementing stock: %w", err)
	}
	if res.MatchedCount != 1 {
		return &orders.UnknownSKUError{SKU: sku}
	}
	return nil
}

func (s *Store) insertOrder(ctx context.Context, o *orders.Order) error {
	if _, err := s.orders.InsertOne(ctx, toOrderDocument(o)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return orders.ErrDuplicateOrder
		}
		return fmt.Errorf("inserting order: %w", err)
	}
	return nil
}

func (s *Store) findOrder(ctx context.Context, filter bson.M) (*orders.Order, error) {
	var d orderDocument
	err := s.orders.FindOne(ctx, filter).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	return d.model(), nil
}

func (s *Store) transition(ctx context.Context, orderID string, from orders.Status, p orders.Patch) (bool, error) {
	set := bson.M{"status": string(p.Status), "updated_at": p.UpdatedAt}
	if p.AssignedAgentKey != nil {
		set["assigned_agent_key"] = *p.AssignedAgentKey
	}
	if p.AssignedAgentDisplayName != nil {
		set["assigned_agent_display_name"] = *p.AssignedAgentDisplayName
	}
	if p.AcceptedAt != nil {
		set["accepted_at"] = *p.AcceptedAt
	}
	if p.DeliveredAt != nil {
		set["delivered_at"] = *p.DeliveredAt
	}
	res, err := s.orders.UpdateOne(ctx, bson.M{"order_id": orderID, "status": string(from)}, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("transitioning order: %w", err)
	}
	return res.MatchedCount == 1, nil
}

var _ orders.Store = (*Store)(nil)
