// Package stokado issues scoped, time-limited upload grants for an
// off-chain account data store and flushes the CDN when uploads land.
//
// # Authorization
//
// A client POSTs a JSON envelope naming its account, the encryption key it
// signed with, an expiration and the paths it wants to write:
//
//	{
//	  "address":    "0x17Dd1686F1B592C7d0869b439ddd1fCD669b352f",
//	  "signer":     "0x622f9Bf48e17753131dC32151f989BDc13aAA072",
//	  "expiration": 1735689600000,
//	  "data":       [{"path": "/account/name"}, {"path": "/account/name.signature"}]
//	}
//
// The raw body is signed as EIP-712 typed data and the signature travels in
// the Signature header. The signer must match the data encryption key the
// account registered on-chain; every path must match one of the rules in
// package paths. On success one presigned POST per path is returned, keyed
// under the address of that encryption key.
//
// # Cache flushing
//
// Storage change notifications (S3 event records delivered through SQS) are
// reduced to object keys and turned into a single CloudFront invalidation per
// message, with a caller reference derived from the message id so redelivery
// never creates a second invalidation.
//
// Subpackages:
//
//   - paths: allowed upload path rules and size ranges
//   - signature: personal-message and typed-data signature verification
//   - chain: Celo Accounts contract key resolution
//   - grants: concurrent grant minting
//   - authorize: request parsing and the authorization pipeline
//   - flush: key extraction and CloudFront invalidation
//   - storage/s3, storage/memory: grant issuers
//   - audit: grant audit trail
//   - api, queue/sqs: HTTP and queue transports
//   - config: environment configuration and wiring
package stokado
