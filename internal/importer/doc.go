// Package importer streams an uploaded product CSV into the catalog sink in
// batches, reporting progress through a progress.Reporter and announcing each
// created or updated product as a domain event.
package importer
