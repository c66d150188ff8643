// Package testing provides standardised tests and benchmarks for
// storage engines that satisfy the db.KVEngine interface.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.KVEngine {
//		return NewMyEngine()
//	}
//
//	// Running the standard test suite
//	dbtesting.RunKVEngineTests(t, "MyEngine", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunKVEngineBenchmarks(b, "MyEngine", factory)
package testing
