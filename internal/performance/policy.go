package performance

import (
	"fmt"
	"time"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

// Policy holds the payroll constants. They are business policy and come
// from configuration.
type Policy struct {
	BaseRateCents int64
	// Handling times outside (MinHandling, MaxHandling] are anomalies and are
	// left out of the average.
	MinHandling time.Duration
	MaxHandling time.Duration
}

func DefaultPolicy() Policy {
	return Policy{BaseRateCents: 5000, MinHandling: 0, MaxHandling: 300 * time.Minute}
}

func (p Policy) validSample(d time.Duration) bool {
	return d > p.MinHandling && d <= p.MaxHandling
}

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange reads YYYY-MM-DD bounds. Either may be empty; both empty
// yields nil, meaning all time.
func ParseDateRange(from, to string, loc *time.Location) (*DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	r := &DateRange{}
	if from != "" {
		t, err := time.ParseInLocation(dateLayout, from, loc)
		if err != nil {
			return nil, &orders.ValidationError{Field: "from", Reason: fmt.Sprintf("want YYYY-MM-DD, got %q", from)}
		}
		r.From = t
	}
	if to != "" {
		t, err := time.ParseInLocation(dateLayout, to, loc)
		if err != nil {
			return nil, &orders.ValidationError{Field: "to", Reason: fmt.Sprintf("want YYYY-MM-DD, got %q", to)}
		}
		r.To = t
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return nil, &orders.ValidationError{Field: "to", Reason: "before from"}
	}
	return r, nil
}

// bounds converts the range to instants: start of From to end of To, in loc.
// Zero results are open bounds.
func (r *DateRange) bounds(loc *time.Location) (from, to time.Time) {
	if r == nil {
		return time.Time{}, time.Time{}
	}
	if !r.From.IsZero() {
		y, m, d := r.From.In(loc).Date()
		from = time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	if !r.To.IsZero() {
		y, m, d := r.To.In(loc).Date()
		to = time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), loc)
	}
	return from, to
}

func (r *DateRange) labels(loc *time.Location) (from, to string) {
	if r == nil {
		return "", ""
	}
	if !r.From.IsZero() {
		from = r.From.In(loc).Format(dateLayout)
	}
	if !r.To.IsZero() {
		to = r.To.In(loc).Format(dateLayout)
	}
	return from, to
}
