package domain

// State is the position of a checkout saga in its state machine.
type State string

const (
	StateInit               State = "Init"
	StateReserved           State = "Reserved"
	StatePaymentCreated     State = "PaymentCreated"
	StateCaptured           State = "Captured"
	StateInventoryCommitted State = "InventoryCommitted"
	StateOrderCreated       State = "OrderCreated"
	StateCompensating       State = "Compensating"
	StateFailed             State = "Failed"
)

var transitions = map[State][]State{
	StateInit:               {StateReserved, StateFailed},
	StateReserved:           {StatePaymentCreated, StateCompensating},
	StatePaymentCreated:     {StateCaptured, StateCompensating},
	StateCaptured:           {StateInventoryCommitted, StateCompensating},
	StateInventoryCommitted: {StateOrderCreated},
	StateCompensating:       {StateFailed},
}

func (s State) IsTerminal() bool {
	return s == StateOrderCreated || s == StateFailed
}

// PaymentCaptured reports whether money has moved by the time a saga is in s.
func (s State) PaymentCaptured() bool {
	return s == StateCaptured || s == StateInventoryCommitted || s == StateOrderCreated
}

func (s State) String() string {
	return string(s)
}

// CanTransitionTo reports whether the state machine has an edge from -> to.
func CanTransitionTo(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
