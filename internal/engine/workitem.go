package engine

import (
	"github.com/osbits/uptimer/internal/checks"
	"github.com/osbits/uptimer/internal/config"
)

// WorkItem is one (service, check, host) combination. Indexes are positions
// in the realm, so duplicate names stay distinguishable.
type WorkItem struct {
	Index        int
	ServiceIndex int
	CheckIndex   int
	HostIndex    int

	Service string
	Check   string
	Host    string
	Kind    string
	Checker checks.Checker
}

// Expand flattens the realm in service, check, host order. Repeated entries
// are not deduplicated.
func Expand(realm *config.Realm) []WorkItem {
	if realm == nil {
		return nil
	}
	items := make([]WorkItem, 0, realm.WorkItems())
	for si, svc := range realm.Services {
		for ci, chk := range svc.Checks {
			kind := ""
			if chk.Checker != nil {
				kind = chk.Checker.Kind()
			}
			for hi, host := range svc.Hosts {
				items = append(items, WorkItem{
					Index:        len(items),
					ServiceIndex: si,
					CheckIndex:   ci,
					HostIndex:    hi,
					Service:      svc.Name,
					Check:        chk.Name,
					Host:         host,
					Kind:         kind,
					Checker:      chk.Checker,
				})
			}
		}
	}
	return items
}
