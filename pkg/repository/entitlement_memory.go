package repository

import (
	"context"

	"github.com/relaychat/relay/pkg/types"
)

// StaticEntitlements grants every user the same plan. Used in local mode
// where no plan table exists.
type StaticEntitlements struct {
	premium bool
}

func NewStaticEntitlements(premium bool) *StaticEntitlements {
	return &StaticEntitlements{premium: premium}
}

func (e *StaticEntitlements) GetPlan(ctx context.Context, userId string) (*types.Plan, error) {
	name := "free"
	if e.premium {
		name = "premium"
	}
	return &types.Plan{UserId: userId, Name: name, Premium: e.premium}, nil
}
