package platform

import (
	"encoding/json"
	"strings"
)

// The provider names the same id differently across endpoints. These lists
// fix the lookup order; the first non-empty string wins.
var (
	snapshotIDPaths = []string{"id", "locationId", "_id"}

	agencyIDPaths = []string{
		"companyId",
		"company.id",
		"company._id",
		"agency.id",
		"agencyId",
		"user.companyId",
		"location.companyId",
	}

	subAccountIDPaths = []string{
		"locationId",
		"location.id",
		"location._id",
		"subAccount.id",
		"subAccountId",
		"user.locationId",
	}

	// Keys that may hold the sub-account array in a listing response.
	listKeys = []string{"locations", "installedLocations", "subAccounts", "data"}
)

// lookup walks a dotted path through nested objects.
func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// idString accepts strings and JSON numbers; every other type is rejected.
func idString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// firstID returns the first non-empty id found at paths, in order.
func firstID(doc map[string]any, paths []string) string {
	if doc == nil {
		return ""
	}
	for _, p := range paths {
		v, ok := lookup(doc, p)
		if !ok {
			continue
		}
		if id := idString(v); id != "" {
			return id
		}
	}
	return ""
}

// SnapshotID resolves a sub-account id from a listing entry.
func SnapshotID(entry map[string]any) string {
	return firstID(entry, snapshotIDPaths)
}

// AgencyID resolves an agency id from an identity or token document.
func AgencyID(doc map[string]any) string {
	return firstID(doc, agencyIDPaths)
}

// SubAccountID resolves a sub-account id from an identity or token document.
func SubAccountID(doc map[string]any) string {
	return firstID(doc, subAccountIDPaths)
}

// listEntries finds the array of objects in a listing response. A bare
// top-level array is accepted too.
func listEntries(body any) []map[string]any {
	var raw []any
	switch t := body.(type) {
	case []any:
		raw = t
	case map[string]any:
		for _, k := range listKeys {
			if arr, ok := t[k].([]any); ok {
				raw = arr
				break
			}
		}
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// stringField returns a trimmed string field or "".
func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return strings.TrimSpace(s)
}
