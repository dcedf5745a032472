package routes

import (
	"fmt"
	"strings"

	"github.com/routeforge/routeforge/internal/errz"
)

// KeySeparator joins tenant and route id into the internal runtime key.
const KeySeparator = "::"

// MaxKeyLength bounds the internal key.
const MaxKeyLength = 128

// DefaultTenant is the tenant assumed when a definition carries none.
const DefaultTenant = "default"

// InternalKey builds the tenant-scoped runtime key for a route.
func InternalKey(tenantID, routeID string) string {
	if tenantID == "" {
		tenantID = DefaultTenant
	}
	return tenantID + KeySeparator + routeID
}

// Key returns the definition's internal key.
func (d *Definition) Key() string {
	return InternalKey(d.TenantID, d.ID)
}

// SplitKey separates an internal key into tenant and route id. Legacy keys
// without a separator are treated as belonging to the default tenant.
func SplitKey(key string) (tenantID, routeID string) {
	if idx := strings.Index(key, KeySeparator); idx >= 0 {
		return key[:idx], key[idx+len(KeySeparator):]
	}
	return DefaultTenant, key
}

// ValidateKeyParts checks the tenant and route id against the key rules.
func ValidateKeyParts(tenantID, routeID string) error {
	if routeID == "" {
		return fmt.Errorf("%w: route id", errz.ErrEmptyNodeID)
	}
	if strings.Contains(tenantID, KeySeparator) {
		return fmt.Errorf("%w: tenant %q", errz.ErrReservedSeparator, tenantID)
	}
	if strings.Contains(routeID, KeySeparator) {
		return fmt.Errorf("%w: route id %q", errz.ErrReservedSeparator, routeID)
	}
	if len(InternalKey(tenantID, routeID)) > MaxKeyLength {
		return fmt.Errorf("%w: %q", errz.ErrInternalKeyTooLong, InternalKey(tenantID, routeID))
	}
	return nil
}
