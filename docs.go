// authkeep provides a collection of related packages for managing OIDC
// bearer credentials on behalf of a client application: an endpoint client
// (oidc), an encrypted scoped token store (store), and a token lifecycle
// manager (keeper).
//
// See README.md
package authkeep
