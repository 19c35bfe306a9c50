// Package model defines the provider-agnostic model abstraction and the
// LLM-backed implementation of core.Inference built on top of it.
//
// Providers (OpenAI, Anthropic) live in sub-packages and implement Model so
// agents stay decoupled from vendor SDKs. MockModel serves tests and the
// offline examples.
package model
