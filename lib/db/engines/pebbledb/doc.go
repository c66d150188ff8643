// Package pebbledb implements db.KVEngine on top of github.com/cockroachdb/pebble.
//
// Column families are emulated with a one byte key prefix (see db.EngineKey), so a single pebble
// instance holds every column family and a single pebble batch commits writes to several of them
// atomically. This is what lets the apply engine persist data and the modification index table in
// one commit.
//
// Ingestion hands sorted string tables to pebble's Ingest, which links the files into the LSM tree
// atomically. The tables must contain engine keys and be written in a table format the opened
// database accepts (see TableFormat).
package pebbledb
