// Package services holds the application services built on the core:
// authentication, the user profile and its generated summary.
//
// Services embed lifecycle.Lifecycle, are resolved through a
// registry.Registry by a Catalog and react to change events by registering
// actions with the orchestrator.
package services
