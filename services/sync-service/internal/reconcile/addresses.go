package reconcile

import (
	"github.com/stoik/mailroom/internal/models"
	"github.com/stoik/mailroom/services/sync-service/internal/store"
)

// MergeAddresses collects every participant address of a batch, deduplicated
// by case-insensitive address. When the same address is seen more than once,
// fields defined on the later occurrence overwrite earlier ones and undefined
// fields keep what was already known. Order of first appearance is preserved.
func MergeAddresses(emails []models.EmailMessage) []models.EmailAddress {
	index := make(map[string]int)
	var merged []models.EmailAddress

	for i := range emails {
		for _, addr := range emails[i].Addresses() {
			key := store.NormalizeAddress(addr.Address)
			if key == "" {
				continue
			}

			pos, seen := index[key]
			if !seen {
				index[key] = len(merged)
				merged = append(merged, models.EmailAddress{
					Name:    addr.Name,
					Address: key,
					Raw:     addr.Raw,
				})
				continue
			}

			if addr.Name != nil {
				merged[pos].Name = addr.Name
			}
			if addr.Raw != nil {
				merged[pos].Raw = addr.Raw
			}
		}
	}

	return merged
}
