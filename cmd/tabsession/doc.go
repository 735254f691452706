// Package main provides the entry point for tabsession.
//
// Every invocation is a tab of the session kept in the configured store:
//
//   - login: print the authorization URL of a new login
//   - callback: complete a login from the provider's redirect URL
//   - status: show the stored session and the refresh lock
//   - watch: keep the session refreshed and print token changes
//   - logout: clear the session everywhere
//   - lock: acquire, release or inspect a cross-process lock
//
// Usage:
//
//	tabsession --config tabsession.yaml login
//	tabsession callback 'https://app.example/callback?code=...&state=...'
//	tabsession -o json status
//	tabsession watch --tabs 3 --metrics-addr 127.0.0.1:9090
package main
