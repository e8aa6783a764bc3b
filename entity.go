package appconfig

import "github.com/velum-io/appconfig-go/internal/models"

// Entity is the evaluation context: who or what a feature or property is
// being resolved for. ID is required; Attributes feed segment conditions.
type Entity = models.Entity
