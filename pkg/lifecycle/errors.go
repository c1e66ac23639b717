package lifecycle

import "errors"

// ErrPermissionDenied means the policy check failed. User-facing and
// non-retryable; the UI degrades it to a toast.
var ErrPermissionDenied = errors.New("lifecycle: permission denied")

// ErrLocalStore means a device-local durable write failed. It is always
// surfaced: a swallowed failure would leave a tombstone operation only
// partially effective.
var ErrLocalStore = errors.New("lifecycle: local store write failed")
