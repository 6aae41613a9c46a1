// Package commands implements the lvpn command line: key generation,
// fingerprints, and the listen/dial tunnel endpoints.
package commands
