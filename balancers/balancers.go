package balancers

import (
	"cmp"
	"errors"
	"slices"

	"github.com/atopos31/keyrelay/models"
	"github.com/samber/lo"
)

var ErrEmpty = errors.New("no candidate keys")

// Balancer picks the next active key out of an eligible candidate set.
type Balancer interface {
	Pick(candidates []models.KeyRecord) (models.KeyRecord, error)
}

// UnusedFirstLRU warms up never-used keys before cycling the hot set:
// the lowest-id key with no LastUsed wins, otherwise the least recently used.
type UnusedFirstLRU struct{}

// Pick returns the first never-used key by id, else the least recently used one.
func (UnusedFirstLRU) Pick(candidates []models.KeyRecord) (models.KeyRecord, error) {
	if len(candidates) == 0 {
		return models.KeyRecord{}, ErrEmpty
	}
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b models.KeyRecord) int {
		return cmp.Compare(a.ID, b.ID)
	})

	if unused, ok := lo.Find(sorted, func(k models.KeyRecord) bool {
		return k.LastUsed == nil
	}); ok {
		return unused, nil
	}
	// strict LRU, ties go to the lower id
	return lo.MinBy(sorted, func(a, b models.KeyRecord) bool {
		return a.LastUsed.Before(*b.LastUsed)
	}), nil
}

// Excluding returns candidates without the key id, unless that would leave
// nothing to pick from.
func Excluding(candidates []models.KeyRecord, id uint) []models.KeyRecord {
	rest := lo.Reject(candidates, func(k models.KeyRecord, _ int) bool {
		return k.ID == id
	})
	if len(rest) == 0 {
		return candidates
	}
	return rest
}
