// Package keys manages the vault signing identity.
//
// Stable surface:
//   - Ed25519 sign/verify over canonical bytes, fingerprints, and the
//     base64url signature rendering used at API boundaries.
//
// Local-first utilities:
//   - Seed files, the env/file key sources, and the public-key archive that
//     keeps rotated-out fingerprints verifiable. These are deployment
//     conveniences, not part of the long-term protocol contract.
package keys
