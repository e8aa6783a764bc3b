package appconfig

import (
	"github.com/velum-io/appconfig-go/internal/models"
	"github.com/velum-io/appconfig-go/internal/snapshot"
)

// The SDK error taxonomy. Background failures are retried internally and
// reported to Config.ErrorHandler once retries are exhausted; evaluation
// calls return errors synchronously. Match with errors.As.
type (
	// AuthError means a credential exchange failed or token refresh
	// retries were exhausted.
	AuthError = models.AuthError
	// NetworkError wraps a transient connectivity or timeout failure.
	NetworkError = models.NetworkError
	// ConfigurationError means a configuration document was malformed or
	// internally inconsistent and has been discarded.
	ConfigurationError = models.ConfigurationError
	// NotFoundError reports an unknown feature or property id.
	NotFoundError = models.NotFoundError
	// EvaluationError reports a dangling segment reference hit during
	// evaluation.
	EvaluationError = models.EvaluationError
	// ValidationError reports an invalid Config field or entity.
	ValidationError = models.ValidationError
)

// ErrNotReady is returned by evaluation calls on a NonBlocking client before
// the first snapshot has arrived. Match with errors.Is.
var ErrNotReady = snapshot.ErrNotReady
