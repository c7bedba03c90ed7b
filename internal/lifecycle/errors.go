package lifecycle

import "errors"

// Policy outcomes. Start and Stop return these without touching the store.
var (
	ErrAlreadyActive       = errors.New("lab is already active")
	ErrNotActive           = errors.New("lab is not active")
	ErrOperationInProgress = errors.New("another operation is in progress for this lab")
	ErrUnknownEnvironment  = errors.New("unknown environment")
)

// Operation failures, reported by Operation.Wait after the rollback ran.
var (
	ErrProvisionFailed   = errors.New("provisioning failed")
	ErrDeprovisionFailed = errors.New("deprovisioning failed")
)

// IsPolicy reports whether err is a policy no-op rather than a failure.
func IsPolicy(err error) bool {
	return errors.Is(err, ErrAlreadyActive) ||
		errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrOperationInProgress)
}
