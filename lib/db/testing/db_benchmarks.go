package testing

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/pKV/lib/db"
)

// RunKVEngineBenchmarks runs all benchmarks for a KVEngine implementation
func RunKVEngineBenchmarks(b *testing.B, name string, factory EngineFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, factory())
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory())
		})

		b.Run("Batch", func(b *testing.B) {
			benchmarkBatch(b, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkPut(b *testing.B, engine db.KVEngine) {
	defer engine.Close()
	value := []byte("benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = engine.Put(db.CFDefault, []byte(fmt.Sprintf("key-%d", i)), value)
	}
}

func benchmarkGet(b *testing.B, engine db.KVEngine) {
	defer engine.Close()
	const numKeys = 10000
	for i := 0; i < numKeys; i++ {
		_ = engine.Put(db.CFDefault, []byte(fmt.Sprintf("key-%d", i)), []byte("value"))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = engine.Get(db.CFDefault, []byte(fmt.Sprintf("key-%d", i%numKeys)))
	}
}

// a batch of 64 puts per iteration, close to an apply cycle under load
func benchmarkBatch(b *testing.B, engine db.KVEngine) {
	defer engine.Close()
	value := []byte("benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wb := engine.NewWriteBatch()
		for j := 0; j < 64; j++ {
			_ = wb.Put(db.CFDefault, []byte(fmt.Sprintf("key-%d-%d", i, j)), value)
		}
		_ = wb.Write()
		_ = wb.Close()
	}
}
