package state

const (
	MetricMessagesAccepted = "messages.accepted"
	MetricMessagesRejected = "messages.rejected"
	MetricSessionSwitches  = "session.switches"
	MetricEntriesLive      = "registry.entries"
	MetricPairsDropped     = "pairs.dropped"
)

// Controller status values.
const (
	StatusUnbound = "unbound"
	StatusBound   = "bound"
	StatusHalted  = "halted"
)
