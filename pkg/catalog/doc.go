/*
Package catalog exposes the file catalog to the sync core.

The Source interface is read-only: the orchestrator lists approved entries
to compute desired sets, and the content endpoint opens entry bytes for
streaming to mirrors. Catalog writes (upload, review, approval) belong to
the intake subsystem; Library.Import exists to seed a catalog from local
files via the CLI.

Library stores one content file per entry under the content directory,
named by entry ID, with metadata in the origin store. Entry hashes are
SHA-256 over the content, computed once at import and verified by every
mirror on every fetch.
*/
package catalog
