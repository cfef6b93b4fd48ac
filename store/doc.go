// store is a package for persisting token sets encrypted at rest, addressed
// by a structured token scope.
//
// Primary types provided by the package
//
// * Scope: a composite identifier (client, optional user/scope/resource/
// purpose) distinguishing independently stored token sets.  A Scope encodes
// deterministically to a flat storage key and decodes back (see StorageKey
// and DecodeStorageKey).
//
// * KV: the flat string-keyed byte-blob persistence capability.  MemoryKV
// and SQLiteKV are provided; callers may bring their own (e.g. a platform
// preference store).
//
// * Keyring: the key-provider capability holding the symmetric encryption
// key.  The key never leaves the provider's boundary except to seal and open
// records.  FileKeyring, PassphraseKeyring and StaticKeyring are provided.
//
// * Store: authenticated encryption (AES-256-GCM) of opaque payloads over a
// KV, plus the TokenSet-level convenience layer (SaveTokens, GetTokens,
// ClearTokens, AllScopes, ClearAllTokens).
//
// A record that fails to decrypt is treated as absent, never as an error:
// callers cannot distinguish "absent" from "corrupt".  This is an accepted
// trade-off favoring availability (graceful re-auth) over diagnostics; the
// store still logs a distinct diagnostic code per failure and counts them
// (see Store.CorruptCount).
package store
