// Package integration runs the adapter binary against emulated AWS services
// (localstack) with the queues, topics, tables and bucket listed in
// server_test.go already created. The dtalk-ack-adapter binary must be in
// PATH.
//
// `go test` flags supported:
//
//   -debug
//
//    Enable debug mode.
//
// Example: go test -v ./integration/... -debug
//
package integration
