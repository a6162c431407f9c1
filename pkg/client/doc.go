// Package client is the Go client for the burrow control API, wrapping its
// HTTP JSON endpoints with typed methods.
package client
