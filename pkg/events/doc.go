// Package events defines the change-type taxonomy and the synchronous change
// event bus that services use to announce domain changes.
package events
