// Package tlsroots builds the root certificate pool used to verify the
// token endpoint: the system roots plus any CA bundle configured for a
// private provider.
package tlsroots
