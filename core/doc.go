// Package core contains the credential domain model, storage and transport
// contracts, error taxonomy, and configuration layering. Cache, refresher,
// manager and transport packages depend on core; core must not depend on
// any of them.
package core
