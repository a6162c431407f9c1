// Package dns serves service discovery over DNS. A queries for service
// names resolve to the addresses of live tasks with a short TTL; all other
// queries are forwarded to the configured upstream servers.
package dns
