package vault

import (
	"context"

	"github.com/elys-network/vaultengine/internal/planner"
	"github.com/ethereum/go-ethereum/common"
)

// Journal records every plan a vault produces.
// Implementations must not modify the plan.
type Journal interface {
	// SavePlan persists plan as produced for owner by the named vault.
	SavePlan(ctx context.Context, vault string, owner common.Address, plan *planner.Plan) error
}
