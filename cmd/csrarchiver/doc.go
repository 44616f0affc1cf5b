// Package main hosts the csrarchiver entrypoint.
//
// Architecture overview:
//   - Catalog: internal/catalog/postgres owns one row per (symbol, report_year). Every write is a
//     single null-guarded UPDATE, so concurrent workers never overwrite each other; an empty DSN
//     falls back to the in-memory catalog for dry runs.
//   - Selection: pipeline.Selector reads rows missing report_url and/or storage_path for the
//     chosen mode, de-duplicates, shuffles with a reproducible seed, and applies --limit.
//   - Dispatch: items are loaded into a bounded in-memory queue and drained by a fixed worker
//     pool (errgroup). Each worker drives one item at a time through pipeline.Orchestrator.
//   - Per item: locate (Custom Search API or a Colly-scraped results page), record the URL,
//     stream the PDF to a temp file while hashing it, upload to GCS/MinIO/local storage, record
//     the storage reference, and publish an archived event when a Pub/Sub topic is configured.
//     The temp file is removed on every exit path.
//   - Failures are classified as NotFound, Transient, Conflict, or Resource. Transient and
//     Resource are retried with jittered backoff; the kind alone decides whether an item ends
//     Skipped (left for a later run) or Failed.
//
// Operational notes:
//   - Exit status is 1 when any item ended Failed.
//   - Metrics are served on metrics.addr (/metrics, /healthz) for the lifetime of a run.
//   - SIGINT/SIGTERM cancel the run; in-flight items end Failed(canceled) and clean up.
//
// Quick checklist:
//   - csrarchiver seed --file companies.csv --from 2014 --to 2024
//   - csrarchiver run --mode full --workers 8 --config config.yaml
//   - Env overrides use the CSRARCHIVER_ prefix, e.g. CSRARCHIVER_CATALOG_DSN.
package main
