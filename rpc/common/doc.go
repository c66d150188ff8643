// Package common provides the types shared by the RPC client and server.
//
// Key Components:
//
//   - Message: Request and response structure of every RPC. Write batches travel
//     encoded with the write codec, partition errors keep their RetCode.
//
//   - MessageType: The supported operations (put, delete, deleteRange, write, get, info)
//     plus the error and success control messages.
//
//   - ServerConfig: Partitions hosted by a node, Dragonboat parameters and write pipeline
//     limits. Converts to the Dragonboat, peer and applier configurations.
//
//   - ClientConfig: Endpoints, timeouts and retry behavior of clients.
//
//   - InitLoggers: Installs the log format for Dragonboat and all pKV packages.
package common
