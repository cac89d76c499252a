package ordering

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/coursebuilder/internal/platform/dbctx"
)

const (
	LockStrategyRow      = "row"
	LockStrategyAdvisory = "advisory"
)

// Locker serializes writers per parent. AcquireExclusive must run inside a
// transaction and before any position is read; the lock is released when the
// transaction ends. A nil node means the parent row is gone.
type Locker interface {
	AcquireExclusive(dbc dbctx.Context, table string, id uuid.UUID) (*Node, error)
}

// RowLocker locks the parent row itself with SELECT ... FOR UPDATE.
type RowLocker struct {
	Nodes NodeRepo
}

func (l RowLocker) AcquireExclusive(dbc dbctx.Context, table string, id uuid.UUID) (*Node, error) {
	return l.Nodes.LockByID(dbc, table, id)
}

// AdvisoryLocker takes a transaction-scoped Postgres advisory lock keyed by
// "<table>:<id>" and then reads the parent. It leaves the parent row itself
// unlocked, so unrelated updates to it do not queue behind position writes.
type AdvisoryLocker struct {
	Nodes NodeRepo
}

func AdvisoryKey(table string, id uuid.UUID) string {
	return table + ":" + id.String()
}

func (l AdvisoryLocker) AcquireExclusive(dbc dbctx.Context, table string, id uuid.UUID) (*Node, error) {
	if dbc.Tx == nil {
		return nil, fmt.Errorf("AcquireExclusive required dbc.Tx")
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).
		Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", AdvisoryKey(table, id)).Error; err != nil {
		return nil, err
	}
	return l.Nodes.Get(dbc, table, id)
}

// NewLocker picks a strategy by name. Advisory locks need Postgres; any
// other driver gets row locks.
func NewLocker(strategy, driver string, nodes NodeRepo) Locker {
	if strings.EqualFold(strings.TrimSpace(strategy), LockStrategyAdvisory) && strings.EqualFold(driver, "postgres") {
		return AdvisoryLocker{Nodes: nodes}
	}
	return RowLocker{Nodes: nodes}
}
