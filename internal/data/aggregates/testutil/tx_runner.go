package testutil

import (
	"context"
	"sync"

	"github.com/yungbote/coursebuilder/internal/data/aggregates"
	"github.com/yungbote/coursebuilder/internal/platform/dbctx"
)

// TxCalls counts how far each write got through InjectedTxRunner.
type TxCalls struct {
	Begin    int
	Body     int
	Commit   int
	Rollback int
}

// InjectedTxRunner fails a collection write at a chosen phase. With Inner set
// the body runs inside Inner's real transaction, so a FailCommit error makes
// the database roll back rows the body already wrote.
type InjectedTxRunner struct {
	Inner aggregates.TxRunner

	// FailBegin is returned before any transaction opens.
	FailBegin error
	// FailBeforeBody is returned after begin, before the body sees a row.
	FailBeforeBody error
	// FailCommit is returned after the body succeeds.
	FailCommit error

	mu    sync.Mutex
	calls TxCalls
}

var _ aggregates.TxRunner = (*InjectedTxRunner)(nil)

func (r *InjectedTxRunner) Calls() TxCalls {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *InjectedTxRunner) bump(f func(c *TxCalls)) {
	r.mu.Lock()
	f(&r.calls)
	r.mu.Unlock()
}

func (r *InjectedTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.bump(func(c *TxCalls) { c.Begin++ })
	if r.FailBegin != nil {
		return r.FailBegin
	}

	body := func(dbc dbctx.Context) error {
		if r.FailBeforeBody != nil {
			return r.FailBeforeBody
		}
		r.bump(func(c *TxCalls) { c.Body++ })
		if fn != nil {
			if err := fn(dbc); err != nil {
				return err
			}
		}
		return r.FailCommit
	}

	var err error
	if r.Inner != nil {
		err = r.Inner.InTx(ctx, body)
	} else {
		err = body(dbctx.Context{Ctx: ctx})
	}
	if err != nil {
		r.bump(func(c *TxCalls) { c.Rollback++ })
		return err
	}
	r.bump(func(c *TxCalls) { c.Commit++ })
	return nil
}
