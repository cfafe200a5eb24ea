package store

import (
	"context"
	"time"

	"github.com/skyporthq/skyport/pkg/types"
)

// transientStates are mid-transition; a local lifecycle action owns the
// record until its settle timer fires, so discovery must not race it.
var transientStates = map[types.ResourceStatus]bool{
	types.ResourceProvisioning: true,
	types.ResourceStopping:     true,
	types.ResourceRestarting:   true,
}

// MergeDiscovered folds provider-reported resources into an account's
// stored set, keyed by provider id. Unknown resources are created, known
// ones have their provider-owned fields refreshed. Resources the provider
// reports as deleted are never created locally.
func MergeDiscovered(ctx context.Context, s Store, accountID string, discovered []types.Resource) (created, updated int, err error) {
	existing, err := s.ListResources(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	byProviderID := make(map[string]*types.Resource, len(existing))
	for _, r := range existing {
		if r.ProviderID != "" {
			byProviderID[r.ProviderID] = r
		}
	}

	now := time.Now().UTC()
	for _, d := range discovered {
		if d.ProviderID == "" {
			continue
		}
		cur, ok := byProviderID[d.ProviderID]
		if !ok {
			if d.Status == types.ResourceDeleted {
				continue
			}
			d.ID = types.NewID()
			d.AccountID = accountID
			d.CreatedAt = now
			d.UpdatedAt = now
			if cerr := s.CreateResource(ctx, &d); cerr != nil {
				return created, updated, cerr
			}
			created++
			continue
		}
		if transientStates[cur.Status] {
			continue
		}
		if cur.Status == d.Status && cur.Region == d.Region && cur.Name == d.Name {
			continue
		}
		cur.Status = d.Status
		cur.Region = d.Region
		cur.Name = d.Name
		if len(d.Tags) > 0 {
			cur.Tags = d.Tags
		}
		if len(d.Metadata) > 0 {
			cur.Metadata = d.Metadata
		}
		cur.UpdatedAt = now
		if uerr := s.UpdateResource(ctx, cur); uerr != nil {
			return created, updated, uerr
		}
		updated++
	}
	return created, updated, nil
}
