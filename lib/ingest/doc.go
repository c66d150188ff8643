// Package ingest moves externally built sorted string tables into a partition.
//
// A client (usually a bulk loader) builds a table with a FileWriter, which writes engine encoded
// keys into the import directory and returns a Descriptor. The descriptor travels through the
// replicated log inside an ingest command; the file itself never does. When the command is
// applied, every replica runs the same three steps:
//
//  1. CheckForIngestion: the descriptor must name this partition, carry its current epoch and
//     cover only keys inside the partition range. A failure here is a normal apply error, the
//     file is deleted and the command fails without touching storage.
//  2. Importer.Validate: the file must exist, have the recorded length and checksum and contain
//     exactly the recorded key range. A file that passed step 1 but fails here is corrupt and the
//     replica must stop.
//  3. Importer.Ingest: all validated files are handed to the storage engine in one atomic call.
package ingest
