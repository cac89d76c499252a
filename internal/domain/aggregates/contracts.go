package aggregates

// TxOwnership says who opens the transaction for a write.
type TxOwnership string

const (
	// TxOwnedByAggregate: callers pass a context, never a transaction.
	TxOwnedByAggregate TxOwnership = "aggregate_owned"
)

// Contract is the published write boundary of an aggregate.
type Contract struct {
	Name        string
	TxOwnership TxOwnership
	// LockOrder lists what a write locks, in acquisition order.
	LockOrder []string
	Notes     string
}

type Aggregate interface {
	Contract() Contract
}

func (c Contract) OwnsTx() bool {
	return c.TxOwnership == TxOwnedByAggregate
}
