// Package grant issues and verifies container-scoped access grants.
//
// A grant is a capability token in the style of a shared access signature:
// the storage secret never leaves the server, clients receive a query string
// naming the containers, the permission set and the validity window, plus an
// HMAC-SHA256 signature over those parameters. Anyone holding the query
// string can use it until it expires, and only for the permissions it names.
//
// # Basic Usage
//
// Issue a read grant for two containers, valid for a day:
//
//	signer := grant.New(grant.WithAccount("acct"), grant.WithSecretKey(key))
//	g, err := signer.Issue([]string{"songs", "covers"}, grant.Read, 24*time.Hour)
//	sasURI := baseURL + "/?" + g.Encode()
//
// Verify a request for an object in "songs":
//
//	_, err := signer.VerifyRequest(r, "songs", grant.Read)
//
// # Permissions
//
// Permissions are a bitset over read (r), add (a), create (c), write (w),
// delete (d) and list (l), encoded in that order.
package grant
