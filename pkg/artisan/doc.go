// Package artisan is the ledger-state aggregation and transaction-orchestration
// layer of the Artisan NFT marketplace client.
//
// The package reconciles on-ledger item state with off-ledger metadata held in a
// content-addressed store, submits state-changing operations (mint, list,
// delist, purchase, creator registration) as ledger transactions, and tracks
// each transaction from submission to a terminal outcome.
//
// The main entry points are:
//
//   - Session: the signer identity, the bound ledger handle and role flags.
//   - Aggregator: merged ItemRecord views of the collection.
//   - Orchestrator: submit and await state-changing operations.
//   - Resolver and Uploader: read and write off-ledger metadata.
//
// Backends live in sub-packages: storage/* for content stores, ledger/* for
// ledger bindings, signer/* for signer providers and repo/* for the activity
// journal.
package artisan
