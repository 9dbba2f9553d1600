// Package performance derives per-agent delivery reports and payroll from
// delivered orders. Nothing here is persisted.
package performance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/identity"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

type Report struct {
	AgentKey               string          `json:"agent_key"`
	AgentName              string          `json:"agent_name"`
	From                   string          `json:"from,omitempty"`
	To                     string          `json:"to,omitempty"`
	TotalDeliveries        int             `json:"total_deliveries"`
	AverageDeliveryMinutes decimal.Decimal `json:"average_delivery_minutes"`
	BaseEarningsCents      int64           `json:"base_earnings_cents"`
	TipsCents              int64           `json:"tips_cents"`
	TotalEarningsCents     int64           `json:"total_earnings_cents"`
	LastDeliveryAt         *time.Time      `json:"last_delivery_at,omitempty"`
	MatchedByKey           int             `json:"matched_by_key"`
	MatchedByFallback      int             `json:"matched_by_fallback"`
	ExcludedSamples        int             `json:"excluded_samples"`
}

type Aggregator struct {
	store    orders.Store
	resolver *identity.Resolver
	policy   Policy
	loc      *time.Location
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewAggregator(store orders.Store, resolver *identity.Resolver, policy Policy, loc *time.Location, m *metrics.Metrics, log *zap.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{store: store, resolver: resolver, policy: policy, loc: loc, metrics: m, log: log.Named("performance")}
}

func (a *Aggregator) Location() *time.Location { return a.loc }

// Report builds the report of one agent. A nil range covers all time.
func (a *Aggregator) Report(ctx context.Context, agentKey string, r *DateRange) (*Report, error) {
	agent, err := a.store.Agent(ctx, agentKey)
	if err != nil {
		return nil, lookupErr("getting agent", err)
	}
	delivered, err := a.delivered(ctx, r)
	if err != nil {
		return nil, err
	}
	rep := a.build(*agent, delivered, r)
	return &rep, nil
}

// Payroll reports every active agent over the same range, sorted by key.
func (a *Aggregator) Payroll(ctx context.Context, r *DateRange) ([]Report, error) {
	agents, err := a.store.Agents(ctx)
	if err != nil {
		return nil, lookupErr("listing agents", err)
	}
	delivered, err := a.delivered(ctx, r)
	if err != nil {
		return nil, err
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].Key < agents[j].Key })
	out := make([]Report, 0, len(agents))
	for _, ag := range agents {
		if !ag.Active {
			continue
		}
		out = append(out, a.build(ag, delivered, r))
	}
	return out, nil
}

func (a *Aggregator) delivered(ctx context.Context, r *DateRange) ([]orders.Order, error) {
	from, to := r.bounds(a.loc)
	list, err := a.store.DeliveredOrders(ctx, from, to)
	if err != nil {
		return nil, lookupErr("listing delivered orders", err)
	}
	return list, nil
}

// build is a pure function of its inputs.
func (a *Aggregator) build(agent orders.Agent, delivered []orders.Order, r *DateRange) Report {
	rep := Report{AgentKey: a.resolver.CanonicalKey(agent), AgentName: agent.Name, AverageDeliveryMinutes: decimal.Zero}
	rep.From, rep.To = r.labels(a.loc)

	var sum time.Duration
	samples := 0
	for i := range delivered {
		o := &delivered[i]
		m := a.resolver.Match(o, agent)
		if !m.Matched() {
			continue
		}
		if m.Fallback() {
			rep.MatchedByFallback++
		} else {
			rep.MatchedByKey++
		}

		rep.TotalDeliveries++
		rep.TipsCents += o.TipCents
		if o.DeliveredAt != nil && (rep.LastDeliveryAt == nil || o.DeliveredAt.After(*rep.LastDeliveryAt)) {
			last := o.DeliveredAt.UTC()
			rep.LastDeliveryAt = &last
		}

		d, ok := o.HandlingTime()
		if !ok || !a.policy.validSample(d) {
			rep.ExcludedSamples++
			a.metrics.HandlingAnomaly()
			a.log.Warn("handling time excluded from average",
				zap.String("order_id", o.OrderID),
				zap.String("agent_key", agent.Key),
				zap.Duration("handling", d),
				zap.Bool("timestamps_missing", !ok),
			)
			continue
		}
		sum += d
		samples++
	}

	// Zero with no samples is a display choice: clients render a number.
	if samples > 0 {
		rep.AverageDeliveryMinutes = decimal.NewFromInt(int64(sum)).
			Div(decimal.NewFromInt(int64(samples) * int64(time.Minute))).
			Round(2)
	}
	rep.BaseEarningsCents = int64(rep.TotalDeliveries) * a.policy.BaseRateCents
	rep.TotalEarningsCents = rep.BaseEarningsCents + rep.TipsCents
	return rep
}

func lookupErr(op string, err error) error {
	if errors.Is(err, orders.ErrAgentNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", orders.ErrUnavailable, op, err)
}
