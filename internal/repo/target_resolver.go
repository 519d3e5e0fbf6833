package repo

import (
	"context"
	"fmt"

	"breeze/internal/models"
)

// PolicyLister is the policy store surface the resolver needs.
type PolicyLister interface {
	ListActiveByOrg(ctx context.Context, orgID string) ([]models.SoftwarePolicy, error)
}

// DeviceLister is the device store surface the resolver needs.
type DeviceLister interface {
	ListUUIDsByOrg(ctx context.Context, orgID string) ([]string, error)
}

// TargetResolver resolves a policy's device set and applies precedence:
// among active enforcing policies targeting the same device, the highest
// precedence wins, ties going to the older policy. Devices governed by
// another policy are reported as shadowed. Detect-only policies stand
// outside the arbitration: they neither shadow nor get shadowed.
type TargetResolver struct {
	policies PolicyLister
	devices  DeviceLister
}

func NewTargetResolver(policies PolicyLister, devices DeviceLister) *TargetResolver {
	return &TargetResolver{policies: policies, devices: devices}
}

func (r *TargetResolver) Resolve(ctx context.Context, p *models.SoftwarePolicy, only []string) ([]string, map[string]string, error) {
	targeted, err := r.targetSet(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	if len(only) > 0 {
		targeted = intersect(targeted, only)
	}
	if len(targeted) == 0 {
		return nil, nil, nil
	}
	if !p.EnforceMode {
		return targeted, nil, nil
	}

	competitors, err := r.policies.ListActiveByOrg(ctx, p.OrgID)
	if err != nil {
		return nil, nil, fmt.Errorf("list org policies: %w", err)
	}

	// Target membership per competing policy; org-wide policies target
	// every device.
	type competitor struct {
		policy  *models.SoftwarePolicy
		all     bool
		devices map[string]bool
	}
	comp := make([]competitor, 0, len(competitors))
	for i := range competitors {
		q := &competitors[i]
		if q.ID == p.ID || !q.EnforceMode {
			continue
		}
		if q.TargetAll {
			comp = append(comp, competitor{policy: q, all: true})
			continue
		}
		ids, err := q.TargetUUIDs()
		if err != nil {
			return nil, nil, fmt.Errorf("policy %s: decode targets: %w", q.ID, err)
		}
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		comp = append(comp, competitor{policy: q, devices: set})
	}

	effective := make([]string, 0, len(targeted))
	shadowed := map[string]string{}
	for _, dev := range targeted {
		governing := p
		for _, c := range comp {
			if !c.all && !c.devices[dev] {
				continue
			}
			if beats(c.policy, governing) {
				governing = c.policy
			}
		}
		if governing.ID == p.ID {
			effective = append(effective, dev)
		} else {
			shadowed[dev] = governing.ID
		}
	}
	return effective, shadowed, nil
}

func (r *TargetResolver) targetSet(ctx context.Context, p *models.SoftwarePolicy) ([]string, error) {
	if p.TargetAll {
		return r.devices.ListUUIDsByOrg(ctx, p.OrgID)
	}
	ids, err := p.TargetUUIDs()
	if err != nil {
		return nil, fmt.Errorf("policy %s: decode targets: %w", p.ID, err)
	}
	return ids, nil
}

func beats(q, cur *models.SoftwarePolicy) bool {
	if q.Precedence != cur.Precedence {
		return q.Precedence > cur.Precedence
	}
	return q.CreatedAt.Before(cur.CreatedAt)
}

func intersect(ids, only []string) []string {
	allow := make(map[string]bool, len(only))
	for _, id := range only {
		allow[id] = true
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if allow[id] {
			out = append(out, id)
		}
	}
	return out
}
