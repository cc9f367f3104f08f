// Package advisor provides generative text backends for the advisory
// strategy. Each backend turns a prompt into a short completion using the
// vendor's official Go SDK. Clients are created lazily on first use.
package advisor
