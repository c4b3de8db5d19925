// Package ports defines the narrow interfaces through which services reach
// collaborators outside the core: persistence, authentication, key/value
// storage, language models, generation record storage and metrics.
package ports
