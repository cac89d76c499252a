package aggregates

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/coursebuilder/internal/data/repos"
	domainagg "github.com/yungbote/coursebuilder/internal/domain/aggregates"
)

// lockOrder returns ids in ascending byte order. Every path that locks two
// parents of the same table takes them in this order.
func lockOrder(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

// RequireSameOrg fails with org_mismatch unless every node shares one org.
func RequireSameOrg(op string, nodes ...*repos.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	org := nodes[0].OrgID
	for _, n := range nodes[1:] {
		if n.OrgID != org {
			return reasonError(domainagg.CodeConflict, domainagg.ReasonOrgMismatch, op,
				fmt.Sprintf("%s belongs to org %s, expected %s", n.ID, n.OrgID, org), nil)
		}
	}
	return nil
}

// RequireRowsAffected turns a write that touched the wrong number of rows
// into a lost race: whatever the caller saw under lock is no longer there.
func RequireRowsAffected(op string, got, want int64, what string) error {
	if got == want {
		return nil
	}
	return raceLost(op, fmt.Sprintf("%s: expected %d rows, affected %d", what, want, got))
}
