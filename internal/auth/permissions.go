package auth

import "strings"

type StaffPermission string

const (
	PermCatalog StaffPermission = "catalog"
	PermOrders  StaffPermission = "orders"
	PermTickets StaffPermission = "tickets"
	PermJobs    StaffPermission = "jobs"
)

// apiPermissionMap gates staff tokens by path prefix. A "METHOD /path" key
// matches that method only; longest matching prefix wins. Owners bypass this
// table entirely.
var apiPermissionMap = map[string]StaffPermission{
	"/api/merchant/catalog":     PermCatalog,
	"/api/merchant/orders":      PermOrders,
	"/api/merchant/tickets":     PermTickets,
	"PUT /api/merchant/tickets": PermTickets,
	"/api/merchant/locations":   PermCatalog,
	"/api/merchant/jobs":        PermJobs,
}

func GetPermissionForAPI(path string, method string) *StaffPermission {
	method = strings.ToUpper(strings.TrimSpace(method))

	var bestPath string
	var bestPerm *StaffPermission
	var bestMethodSpecific bool

	for key, perm := range apiPermissionMap {
		keyMethod := ""
		keyPath := key
		methodSpecific := false
		if strings.Contains(key, " ") {
			parts := strings.SplitN(key, " ", 2)
			keyMethod = strings.ToUpper(strings.TrimSpace(parts[0]))
			keyPath = strings.TrimSpace(parts[1])
			methodSpecific = true
			if method == "" || method != keyMethod {
				continue
			}
		}

		if !strings.HasPrefix(path, keyPath) {
			continue
		}

		if bestPerm == nil || len(keyPath) > len(bestPath) || (len(keyPath) == len(bestPath) && methodSpecific && !bestMethodSpecific) {
			bestPath = keyPath
			bestMethodSpecific = methodSpecific
			permCopy := perm
			bestPerm = &permCopy
		}
	}

	return bestPerm
}
