package daemon

import (
	"fmt"

	"github.com/hivemind-dev/coordinator/internal/agent"
	"github.com/hivemind-dev/coordinator/internal/config"
	"github.com/hivemind-dev/coordinator/internal/constants"
)

// roleResolver implements trigger.Resolver over the town manifest's
// roster and [groups] table: a role name resolves to its one pane, a
// group name resolves to every member role's pane, and the reserved
// broadcast recipient resolves to every pane currently on the roster.
type roleResolver struct {
	manifest *config.Manifest
	roster   *Roster
}

func newRoleResolver(manifest *config.Manifest, roster *Roster) *roleResolver {
	return &roleResolver{manifest: manifest, roster: roster}
}

func (r *roleResolver) Resolve(recipient string) ([]agent.PaneID, error) {
	if recipient == constants.BroadcastRecipient {
		return r.roster.List(), nil
	}
	for _, ac := range r.manifest.Roster {
		if ac.Role == recipient {
			return []agent.PaneID{agent.PaneID(ac.PaneID)}, nil
		}
	}
	if members, ok := r.manifest.Groups[recipient]; ok {
		panes := make([]agent.PaneID, 0, len(members))
		for _, role := range members {
			found := false
			for _, ac := range r.manifest.Roster {
				if ac.Role == role {
					panes = append(panes, agent.PaneID(ac.PaneID))
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("daemon: group %q references unknown role %q", recipient, role)
			}
		}
		return panes, nil
	}
	return nil, fmt.Errorf("daemon: unknown recipient role %q", recipient)
}
