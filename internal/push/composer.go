package push

import (
	"context"
	"fmt"

	"github.com/pushgarden/pushgarden/internal/domain"
)

// Composer resolves a logical target into concrete recipient ids. Pure
// resolution: no delivery logic lives here.
type Composer struct {
	members MembershipStore
}

// NewComposer creates a target composer.
func NewComposer(members MembershipStore) *Composer {
	return &Composer{members: members}
}

// Resolve expands a target descriptor to the list of user ids it denotes.
func (c *Composer) Resolve(ctx context.Context, target domain.Target) ([]string, error) {
	switch target.Type {
	case domain.TargetUser:
		if target.UserID == "" {
			return nil, fmt.Errorf("%w: user target needs user_id", ErrInvalidTarget)
		}
		return []string{target.UserID}, nil

	case domain.TargetTeam:
		if target.TeamID == "" {
			return nil, fmt.Errorf("%w: team target needs team_id", ErrInvalidTarget)
		}
		ids, err := c.members.ListTeamMemberIDs(ctx, target.TeamID)
		if err != nil {
			return nil, fmt.Errorf("resolve team %s: %w", target.TeamID, err)
		}
		return ids, nil

	case domain.TargetBroadcast:
		ids, err := c.members.ListAllUserIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve broadcast: %w", err)
		}
		return ids, nil

	default:
		return nil, fmt.Errorf("%w: unknown target type %q", ErrInvalidTarget, target.Type)
	}
}
