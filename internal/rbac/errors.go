package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPermission marks a permission key missing from the policy.
	ErrUnknownPermission = errors.New("rbac: unknown permission")
	// ErrUnknownRole marks a role outside the known set.
	ErrUnknownRole = errors.New("rbac: unknown role")
	// ErrCyclicHierarchy marks a hierarchy where a role inherits from itself.
	ErrCyclicHierarchy = errors.New("rbac: cyclic role hierarchy")
	// ErrEmptyPermission marks a blank permission key in a policy.
	ErrEmptyPermission = errors.New("rbac: empty permission key")
	// ErrNoSource is returned when reloading a store without a source.
	ErrNoSource = errors.New("rbac: no policy source configured")
)

// ConfigError reports a configuration defect found while answering a query.
// It is surfaced through the logger and Observer, never to the caller.
type ConfigError struct {
	Permission Permission
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rbac: permission %q not found in policy", string(e.Permission))
}

// Unwrap lets errors.Is match ErrUnknownPermission.
func (e *ConfigError) Unwrap() error {
	return ErrUnknownPermission
}
