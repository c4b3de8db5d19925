// Package llm provides LLM provider implementations.
//
// The factory creates providers based on configuration.
// Currently supports:
//   - anthropic: Claude through the Messages API
//   - static: fixed replies for local runs and tests
package llm
