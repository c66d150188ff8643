package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/pKV/lib/db"
)

// EngineFactory is a function that creates a new, empty instance of a KVEngine implementation
type EngineFactory func() db.KVEngine

// RunKVEngineTests runs a comprehensive test suite for a KVEngine implementation.
func RunKVEngineTests(t *testing.T, name string, factory EngineFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("ColumnFamilyIsolation", func(t *testing.T) {
			testColumnFamilyIsolation(t, factory())
		})

		t.Run("WriteBatch", func(t *testing.T) {
			testWriteBatch(t, factory())
		})

		t.Run("DiscardedBatch", func(t *testing.T) {
			testDiscardedBatch(t, factory())
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, factory())
		})

		t.Run("ConcurrentBatches", func(t *testing.T) {
			testConcurrentBatches(t, factory())
		})

		t.Run("Snapshot", func(t *testing.T) {
			testSnapshot(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the engine supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, engine db.KVEngine, feature db.Feature) {
	if !engine.SupportsFeature(feature) {
		t.Skip()
	}
}

func mustGet(t testing.TB, engine db.KVEngine, cf db.CF, key string) ([]byte, bool) {
	t.Helper()
	value, ok, err := engine.Get(cf, []byte(key))
	if err != nil {
		t.Fatalf("Get(%s, %q) failed: %v", cf, key, err)
	}
	return value, ok
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeaturePut|db.FeatureGet)

	if err := engine.Put(db.CFDefault, []byte("key"), []byte("value1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	result, exists := mustGet(t, engine, db.CFDefault, "key")
	if !exists || !bytes.Equal(result, []byte("value1")) {
		t.Errorf("Expected value1, got %q (exists=%v)", result, exists)
	}

	if err := engine.Put(db.CFDefault, []byte("key"), []byte("value2")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	result, _ = mustGet(t, engine, db.CFDefault, "key")
	if !bytes.Equal(result, []byte("value2")) {
		t.Errorf("Expected value2 after overwrite, got %q", result)
	}

	if _, exists = mustGet(t, engine, db.CFDefault, "nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	result[0] = 'X'
	original, _ := mustGet(t, engine, db.CFDefault, "key")
	if bytes.Equal(result, original) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testDelete(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeaturePut|db.FeatureDelete|db.FeatureGet)

	_ = engine.Put(db.CFDefault, []byte("key"), []byte("value"))
	if err := engine.Delete(db.CFDefault, []byte("key")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, exists := mustGet(t, engine, db.CFDefault, "key"); exists {
		t.Errorf("Expected key to be gone after Delete")
	}

	// deleting a missing key is not an error
	if err := engine.Delete(db.CFDefault, []byte("missing")); err != nil {
		t.Errorf("Delete of missing key failed: %v", err)
	}
}

func testColumnFamilyIsolation(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeaturePut|db.FeatureGet)

	cfs := []db.CF{db.CFDefault, db.CFLock, db.CFWrite, db.CFRaft}
	for _, cf := range cfs {
		if err := engine.Put(cf, []byte("shared"), []byte(cf.String())); err != nil {
			t.Fatalf("Put(%s) failed: %v", cf, err)
		}
	}
	for _, cf := range cfs {
		value, ok := mustGet(t, engine, cf, "shared")
		if !ok || string(value) != cf.String() {
			t.Errorf("cf %s: expected %q, got %q", cf, cf.String(), value)
		}
	}

	_ = engine.Delete(db.CFLock, []byte("shared"))
	if _, ok := mustGet(t, engine, db.CFDefault, "shared"); !ok {
		t.Errorf("Delete in lock cf removed the key from the default cf")
	}
}

func testWriteBatch(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeatureBatch|db.FeatureGet)

	_ = engine.Put(db.CFDefault, []byte("old"), []byte("v"))

	wb := engine.NewWriteBatch()
	defer wb.Close()

	_ = wb.Put(db.CFDefault, []byte("a"), []byte("1"))
	_ = wb.Put(db.CFWrite, []byte("b"), []byte("2"))
	_ = wb.Put(db.CFRaft, []byte("idx"), db.EncodeUint64(42))
	_ = wb.Delete(db.CFDefault, []byte("old"))

	if wb.Count() != 4 {
		t.Errorf("Expected 4 staged operations, got %d", wb.Count())
	}
	if wb.DataSize() == 0 {
		t.Errorf("Expected non-zero data size")
	}

	// nothing is visible before Write
	if _, ok := mustGet(t, engine, db.CFDefault, "a"); ok {
		t.Errorf("staged put visible before Write")
	}

	if err := wb.Write(); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if v, ok := mustGet(t, engine, db.CFDefault, "a"); !ok || string(v) != "1" {
		t.Errorf("expected a=1 after Write, got %q", v)
	}
	if v, ok := mustGet(t, engine, db.CFWrite, "b"); !ok || string(v) != "2" {
		t.Errorf("expected b=2 in write cf after Write, got %q", v)
	}
	if v, _ := mustGet(t, engine, db.CFRaft, "idx"); len(v) != 8 {
		t.Errorf("expected encoded index in raft cf, got %v", v)
	} else if idx, _ := db.DecodeUint64(v); idx != 42 {
		t.Errorf("expected index 42, got %d", idx)
	}
	if _, ok := mustGet(t, engine, db.CFDefault, "old"); ok {
		t.Errorf("expected old to be deleted by the batch")
	}
}

func testDiscardedBatch(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeatureBatch|db.FeatureGet)

	wb := engine.NewWriteBatch()
	_ = wb.Put(db.CFDefault, []byte("a"), []byte("1"))
	if err := wb.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, ok := mustGet(t, engine, db.CFDefault, "a"); ok {
		t.Errorf("closed batch must not be applied")
	}
}

func testScan(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeaturePut|db.FeatureScan)

	for _, k := range []string{"d", "a", "c", "b", "e"} {
		_ = engine.Put(db.CFDefault, []byte(k), []byte("v"+k))
	}
	_ = engine.Put(db.CFLock, []byte("a"), []byte("lock"))

	tests := []struct {
		name       string
		start, end string
		limit      int
		want       []string
	}{
		{"full", "", "", 0, []string{"a", "b", "c", "d", "e"}},
		{"bounded", "b", "d", 0, []string{"b", "c"}},
		{"open end", "c", "", 0, []string{"c", "d", "e"}},
		{"stop early", "", "", 2, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			err := engine.Scan(db.CFDefault, []byte(tt.start), []byte(tt.end), func(k, v []byte) bool {
				if string(v) != "v"+string(k) {
					t.Errorf("unexpected value %q for key %q", v, k)
				}
				got = append(got, string(k))
				return tt.limit == 0 || len(got) < tt.limit
			})
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("Scan = %v, want %v", got, tt.want)
			}
		})
	}
}

func testSnapshot(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeaturePut|db.FeatureSnapshot)

	_ = engine.Put(db.CFDefault, []byte("a"), []byte("old"))
	_ = engine.Put(db.CFDefault, []byte("b"), []byte("old"))

	snap := engine.NewSnapshot()
	defer snap.Close()

	_ = engine.Put(db.CFDefault, []byte("a"), []byte("new"))
	_ = engine.Delete(db.CFDefault, []byte("b"))
	_ = engine.Put(db.CFDefault, []byte("c"), []byte("new"))

	value, ok, err := snap.Get(db.CFDefault, []byte("a"))
	if err != nil || !ok || string(value) != "old" {
		t.Errorf("snapshot Get(a) = %q, %v, %v, want old", value, ok, err)
	}
	var keys []string
	err = snap.Scan(db.CFDefault, nil, nil, func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	if err != nil {
		t.Fatalf("snapshot Scan failed: %v", err)
	}
	if fmt.Sprint(keys) != "[a b]" {
		t.Errorf("snapshot Scan = %v, want [a b]", keys)
	}

	if value, _ := mustGet(t, engine, db.CFDefault, "a"); string(value) != "new" {
		t.Errorf("engine Get(a) = %q, want new", value)
	}
}

func testConcurrentBatches(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeatureBatch|db.FeatureGet)

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			wb := engine.NewWriteBatch()
			defer wb.Close()
			for i := 0; i < perWriter; i++ {
				_ = wb.Put(db.CFDefault, []byte(fmt.Sprintf("w%d-%03d", w, i)), []byte("x"))
			}
			if err := wb.Write(); err != nil {
				t.Errorf("writer %d: Write failed: %v", w, err)
			}
		}(w)
	}
	wg.Wait()

	count := 0
	_ = engine.Scan(db.CFDefault, nil, nil, func(_, _ []byte) bool {
		count++
		return true
	})
	if count != writers*perWriter {
		t.Errorf("expected %d keys, got %d", writers*perWriter, count)
	}
}
