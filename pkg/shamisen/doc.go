// Package shamisen ingests audio uploads into a song catalog and hands out
// access grants for reading the stored objects.
//
// The Service interface coordinates four collaborators, each pluggable:
//
//   - an Extractor that reads tags and cover art from the upload
//     (see subpackage extract),
//   - an ObjectStore holding the "songs" and "covers" containers
//     (memory, filesystem, S3 and MinIO backends under storage/),
//   - a CatalogStore holding one document per song in a single partition
//     (memory and Postgres backends under catalog/),
//   - a grant.Signer issuing container-scoped, time-limited capabilities.
//
// # Ingestion
//
// IngestSong extracts metadata, uploads the cover then the audio under a
// fresh id, and writes a CatalogEntry. The steps are sequential and not
// transactional. When a StagingStore is configured each attempt is recorded
// as pending before any upload and committed after the catalog write;
// Reconcile later removes the objects of attempts that never committed.
//
// # Listing
//
// ListSongs has two modes. ListCatalogBacked returns the catalog entries and
// a grant over both containers; ListRawKeys returns only the keys found in
// the songs container and a grant over it.
package shamisen
