/*
Package security provides the cryptographic primitives used by the rest
of lattice: AES-256-GCM at-rest blob encryption (BlobEncryptor), bcrypt
password hashing, and HMAC-SHA256 bearer token signing/verification.

It does not include a certificate authority or per-node mTLS PKI — the
HTTP carrier's TLS listener uses a single server-side certificate, and
worker identity is established by bearer token (pkg/auth), not client
certificates. See DESIGN.md for why the teacher's CA/certs machinery was
not carried forward.
*/
package security
