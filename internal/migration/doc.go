// Package migration versions the PostgreSQL schema with golang-migrate.
// The SQL files are embedded via embed.FS, so the binary carries its own
// schema history: core tables first, then the pgvector extension and the
// semantic embedding table with its approximate-nearest-neighbour index.
// The CLI type renders the migrate subcommand's terminal output.
package migration
