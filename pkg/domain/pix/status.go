package pix

// Status is the local lifecycle status of a Pix transaction.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
	StatusRefunded  Status = "REFUNDED"
	StatusFailed    Status = "FAILED"
)

// Type is the kind of Pix transaction.
type Type string

const (
	TypeCharge Type = "CHARGE"
	TypeSend   Type = "SEND"
	TypeRefund Type = "REFUND"
)

// Origin records whether a transaction was created against the real gateway
// or by the test-mode simulator. Simulated records are never reconciled.
type Origin string

const (
	OriginGateway   Origin = "gateway"
	OriginSimulated Origin = "simulated"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusExpired, StatusCancelled, StatusFailed},
	StatusPaid:    {StatusRefunded},
}

// AllStatuses lists every status in display order.
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusPaid,
		StatusExpired,
		StatusCancelled,
		StatusRefunded,
		StatusFailed,
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusExpired, StatusCancelled, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) String() string { return string(s) }

// Valid reports whether t is a known transaction type.
func (t Type) Valid() bool {
	switch t {
	case TypeCharge, TypeSend, TypeRefund:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }

// CanTransition reports whether the lifecycle allows moving from one status to another.
// Self transitions are not transitions.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
