// Package katana is the public surface of the BlitzArch Katana archive
// engine: Create, Extract and List operate on sharded, optionally
// AEAD-encrypted, random-access .blz archives. Engine internals (the
// sharder, codec, crypto, memory scheduler, container format) live in
// internal/katana and are not part of this package's contract.
package katana
