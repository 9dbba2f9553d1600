package orders

type Status string

const (
	StatusPending        Status = "pending"
	StatusAccepted       Status = "accepted"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:        {StatusAccepted: true, StatusCancelled: true},
	StatusAccepted:       {StatusOutForDelivery: true, StatusDelivered: true},
	StatusOutForDelivery: {StatusDelivered: true},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

// CanTransition reports whether from -> to is a legal edge of the order lifecycle.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal states freeze the order's items and amounts.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// ParseStatus accepts the wire form of a status.
func ParseStatus(v string) (Status, bool) {
	s := Status(v)
	return s, s.Valid()
}
