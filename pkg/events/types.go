package events

// Entity names used as bus topics.
const (
	EntityCasDeposit        = "cas_deposit"
	EntityRelayTransaction  = "relay_transaction"
	EntityReturnIntention   = "return_intention"
	EntityGasSponsorDeposit = "gas_sponsor_deposit"
)

// StatusEvent announces one ledger status transition so an outer layer
// (dashboard, websocket fan-out) can render progress without polling.
type StatusEvent struct {
	Entity string
	ID     uint
	Status string
	TxHash string
}
