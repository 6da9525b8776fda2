package swap

// Status indicates the current state of an order in the coordinator
// state machine. The set is closed and all legal transitions are
// checked through ValidTransition, never at individual call sites.
type Status uint8

const (
	// StatusCreated is the initial state of an order. The intent has
	// been submitted but no resolver has reserved it yet.
	StatusCreated Status = 0

	// StatusMatched is reached when a resolver has won the atomic
	// reservation of the order.
	StatusMatched Status = 1

	// StatusSrcEscrowed means the source chain escrow is locked and
	// confirmed.
	StatusSrcEscrowed Status = 2

	// StatusDstEscrowed means the destination chain escrow is locked
	// and confirmed with the same hashlock.
	StatusDstEscrowed Status = 3

	// StatusSrcClaimed means the source leg was claimed, revealing the
	// preimage on the source chain.
	StatusSrcClaimed Status = 4

	// StatusDstClaimed means the destination leg was claimed,
	// revealing the preimage on the destination chain.
	StatusDstClaimed Status = 5

	// StatusCompleted is the terminal success state: both legs are
	// claimed.
	StatusCompleted Status = 6

	// StatusSrcRefunded is a terminal state reached when the source
	// leg was refunded after a stall. If the destination leg was also
	// funded it has been refunded as well.
	StatusSrcRefunded Status = 7

	// StatusDstRefunded is a terminal state reached when only the
	// destination leg was funded and has been refunded.
	StatusDstRefunded Status = 8

	// StatusExpired is a terminal state for orders that crossed their
	// deadline before any leg was funded.
	StatusExpired Status = 9

	// StatusFailed is the terminal state for orders that cannot
	// progress because of a non-recoverable error.
	StatusFailed Status = 10
)

// StatusType defines the coarse categories a Status falls into.
type StatusType uint8

const (
	// StatusTypePending indicates that the order is still in flight.
	StatusTypePending StatusType = 0

	// StatusTypeSuccess indicates that the order completed both legs.
	StatusTypeSuccess StatusType = 1

	// StatusTypeFail indicates a terminal non-success outcome.
	StatusTypeFail StatusType = 2
)

// Type returns the type of the Status it is called on.
func (s Status) Type() StatusType {
	switch s {
	case StatusCompleted:
		return StatusTypeSuccess

	case StatusSrcRefunded, StatusDstRefunded, StatusExpired,
		StatusFailed:

		return StatusTypeFail

	default:
		return StatusTypePending
	}
}

// IsTerminal reports whether the status is final. Terminal orders are
// immutable.
func (s Status) IsTerminal() bool {
	return s.Type() != StatusTypePending
}

// String returns a human readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "Created"

	case StatusMatched:
		return "Matched"

	case StatusSrcEscrowed:
		return "SrcEscrowed"

	case StatusDstEscrowed:
		return "DstEscrowed"

	case StatusSrcClaimed:
		return "SrcClaimed"

	case StatusDstClaimed:
		return "DstClaimed"

	case StatusCompleted:
		return "Completed"

	case StatusSrcRefunded:
		return "SrcRefunded"

	case StatusDstRefunded:
		return "DstRefunded"

	case StatusExpired:
		return "Expired"

	case StatusFailed:
		return "Failed"

	default:
		return "Unknown"
	}
}

// forwardTransitions holds the happy-path edges of the state machine.
// Refund, expiry and failure edges are handled separately below
// because they are reachable from every non-terminal state.
var forwardTransitions = map[Status][]Status{
	StatusCreated:     {StatusMatched},
	StatusMatched:     {StatusSrcEscrowed},
	StatusSrcEscrowed: {StatusDstEscrowed},
	StatusDstEscrowed: {StatusSrcClaimed, StatusDstClaimed},
	StatusSrcClaimed:  {StatusCompleted},
	StatusDstClaimed:  {StatusCompleted},
}

// ValidTransition reports whether moving from one status to another is
// legal. Terminal states admit no outgoing transitions.
func ValidTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}

	// Every non-terminal state may route into the refund, expiry or
	// failure paths.
	switch to {
	case StatusSrcRefunded, StatusDstRefunded, StatusExpired,
		StatusFailed:

		return true
	}

	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}
