/*
Package discovery maps service names to the addresses of their live tasks.

The Resolver reads the committed task state and returns ordered endpoint
sets; the Dispatcher layers round-robin distribution with
retry-on-next-endpoint over it. It also derives scrape targets for services
that declare a metrics endpoint.
*/
package discovery
