// Package auth parses connection strings and produces the credentials sent
// to the control plane: shared access signatures minted from a key, or Azure
// AD bearer tokens when no key is configured.
package auth
