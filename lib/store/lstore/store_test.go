package lstore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/db/engines/pebbledb"
	"github.com/ValentinKolb/pKV/lib/ingest"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/store"
	"github.com/ValentinKolb/pKV/lib/write"
	"github.com/cockroachdb/pebble/vfs"
)

var testMeta = partition.Meta{
	ID:       3,
	Epoch:    partition.Epoch{ConfVer: 1, Version: 1},
	StartKey: []byte("a"),
	EndKey:   []byte("m"),
}

func openStore(t *testing.T, fs vfs.FS) store.IPartitionStore {
	t.Helper()
	importer, err := ingest.NewSSTImporter(fs, "import")
	if err != nil {
		t.Fatal(err)
	}
	factory := func(id uint64) (db.KVEngine, error) {
		return pebbledb.NewPebbleEngine(fmt.Sprintf("partition-%d", id), &pebbledb.Options{FS: fs})
	}
	cfg := DefaultConfig()
	cfg.Timeout = time.Second
	s, err := NewLocalStore(testMeta, factory, importer, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newStore(t *testing.T) store.IPartitionStore {
	t.Helper()
	s := openStore(t, vfs.NewMem())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func expectValue(t *testing.T, s store.IStore, cf db.CF, key, want string) {
	t.Helper()
	val, ok, err := s.Get(cf, []byte(key))
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", key, err)
	}
	if want == "" {
		if ok {
			t.Errorf("Get(%s) = %q, want not found", key, val)
		}
		return
	}
	if !ok || string(val) != want {
		t.Errorf("Get(%s) = %q, %v, want %q", key, val, ok, want)
	}
}

func TestPutGetDelete(t *testing.T) {
	s := newStore(t)

	if err := s.Put(db.CFDefault, []byte("b"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(db.CFLock, []byte("b"), []byte("lock")); err != nil {
		t.Fatal(err)
	}
	expectValue(t, s, db.CFDefault, "b", "1")
	expectValue(t, s, db.CFLock, "b", "lock")

	if err := s.Delete(db.CFDefault, []byte("b")); err != nil {
		t.Fatal(err)
	}
	expectValue(t, s, db.CFDefault, "b", "")
	expectValue(t, s, db.CFLock, "b", "lock")
}

func TestWriteAppliesInOrder(t *testing.T) {
	s := newStore(t)

	res, err := s.Write(
		write.Put(db.CFDefault, []byte("b"), []byte("1")),
		write.Put(db.CFDefault, []byte("b"), []byte("2")),
		write.Put(db.CFDefault, []byte("c"), []byte("3")),
		write.Delete(db.CFDefault, []byte("c")),
	)
	if err != nil {
		t.Fatal(err)
	}
	if res.Index == 0 {
		t.Error("result must carry the log index")
	}
	expectValue(t, s, db.CFDefault, "b", "2")
	expectValue(t, s, db.CFDefault, "c", "")

	info, err := s.GetInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info.Apply.ModificationIndexes[db.CFDefault.String()] != res.Index {
		t.Errorf("modification index %d, want %d", info.Apply.ModificationIndexes[db.CFDefault.String()], res.Index)
	}
}

func TestKeyOutsidePartition(t *testing.T) {
	s := newStore(t)

	err := s.Put(db.CFDefault, []byte("x"), []byte("1"))
	if partition.CodeOf(err) != partition.RetCKeyNotInRange {
		t.Errorf("Put: got %v, want key not in range", err)
	}
	if _, _, err := s.Get(db.CFDefault, []byte("x")); partition.CodeOf(err) != partition.RetCKeyNotInRange {
		t.Errorf("Get: got %v, want key not in range", err)
	}
	if _, _, err := s.Get(db.CFRaft, []byte("b")); partition.CodeOf(err) != partition.RetCInvalidOperation {
		t.Errorf("Get from raft column family: got %v", err)
	}
}

func TestWriteRejectedMidEntryKeepsEarlierOps(t *testing.T) {
	s := newStore(t)

	_, err := s.Write(
		write.Put(db.CFDefault, []byte("b"), []byte("1")),
		write.Put(db.CFDefault, []byte("x"), []byte("2")),
		write.Put(db.CFDefault, []byte("c"), []byte("3")),
	)
	if partition.CodeOf(err) != partition.RetCKeyNotInRange {
		t.Fatalf("Write: got %v, want key not in range", err)
	}
	expectValue(t, s, db.CFDefault, "b", "1")
	expectValue(t, s, db.CFDefault, "c", "")
}

func TestDeleteRangeIsTracked(t *testing.T) {
	s := newStore(t)

	if err := s.Put(db.CFDefault, []byte("b"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRange(db.CFDefault, []byte("a"), []byte("m")); err != nil {
		t.Fatal(err)
	}
	// the range deletion is carried out by boundary change cleanup, not by the command
	expectValue(t, s, db.CFDefault, "b", "1")
}

func TestIngest(t *testing.T) {
	s := newStore(t)

	fw, err := s.NewFileWriter(db.CFWrite)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"c", "d", "e"} {
		if err := fw.Put([]byte(k), []byte("v-"+k)); err != nil {
			t.Fatal(err)
		}
	}
	desc, err := fw.Finish()
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Ingest(desc); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"c", "d", "e"} {
		expectValue(t, s, db.CFWrite, k, "v-"+k)
	}
	expectValue(t, s, db.CFDefault, "c", "")
}

func TestIngestStaleEpochIsRefused(t *testing.T) {
	s := newStore(t)

	fw, err := s.NewFileWriter(db.CFDefault)
	if err != nil {
		t.Fatal(err)
	}
	_ = fw.Put([]byte("c"), []byte("v"))
	desc, err := fw.Finish()
	if err != nil {
		t.Fatal(err)
	}

	meta := testMeta.Clone()
	meta.Epoch.Version++
	if err := s.UpdateMeta(meta); err != nil {
		t.Fatal(err)
	}
	if err := s.Ingest(desc); partition.CodeOf(err) != partition.RetCEpochNotMatch {
		t.Errorf("got %v, want epoch not match", err)
	}
	expectValue(t, s, db.CFDefault, "c", "")
}

func TestUnsafeWriteBypassesLog(t *testing.T) {
	s := newStore(t)

	if !s.Peer().UnsafeWrite(write.Put(db.CFDefault, []byte("b"), []byte("unsafe"))) {
		t.Fatal("unsafe write refused")
	}
	// GetInfo is processed by the apply goroutine after the unsafe write
	info, err := s.GetInfo()
	if err != nil {
		t.Fatal(err)
	}
	expectValue(t, s, db.CFDefault, "b", "unsafe")
	if info.Apply.AppliedIndex != 0 || info.Apply.ModificationIndexes[db.CFDefault.String()] != 0 {
		t.Errorf("unsafe writes must not advance indexes: %+v", info.Apply)
	}
}

func TestRestartContinuesIndexes(t *testing.T) {
	fs := vfs.NewMem()

	s := openStore(t, fs)
	first, err := s.Write(write.Put(db.CFDefault, []byte("b"), []byte("1")))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openStore(t, fs)
	defer s.Close()
	expectValue(t, s, db.CFDefault, "b", "1")

	second, err := s.Write(write.Put(db.CFDefault, []byte("b"), []byte("2")))
	if err != nil {
		t.Fatal(err)
	}
	if second.Index <= first.Index {
		t.Errorf("index %d after restart, want > %d", second.Index, first.Index)
	}
	expectValue(t, s, db.CFDefault, "b", "2")
}

func TestConcurrentWriters(t *testing.T) {
	s := newStore(t)

	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("b-%d-%d", w, i)
				if err := s.Put(db.CFDefault, []byte(key), []byte(key)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			key := fmt.Sprintf("b-%d-%d", w, i)
			expectValue(t, s, db.CFDefault, key, key)
		}
	}

	info, err := s.GetInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info.Proposals.Proposals == 0 || info.Proposals.Proposals > writers*perWriter {
		t.Errorf("unexpected proposal count %d", info.Proposals.Proposals)
	}
}

func TestClosedStore(t *testing.T) {
	s := openStore(t, vfs.NewMem())
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(db.CFDefault, []byte("b"), []byte("1")); partition.CodeOf(err) != partition.RetCPartitionRemoved {
		t.Errorf("got %v, want partition removed", err)
	}
}

// waitDeferred waits until n writes are parked by the proposal control of s
func waitDeferred(t *testing.T, s store.IPartitionStore, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		stats, err := s.Peer().Stats()
		if err != nil {
			t.Fatal(err)
		}
		if stats.CurrentlyDeferred == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d writes deferred, want %d", stats.CurrentlyDeferred, n)
		}
		time.Sleep(time.Millisecond)
	}
}

func widened(version uint64) partition.Meta {
	meta := testMeta.Clone()
	meta.Epoch.Version = version
	meta.EndKey = []byte("z")
	return meta
}

func TestResolveBoundaryChangeReachesApplySide(t *testing.T) {
	s := newStore(t)

	if err := s.BeginBoundaryChange(); err != nil {
		t.Fatal(err)
	}
	parked := make(chan error, 1)
	go func() { parked <- s.Put(db.CFDefault, []byte("b"), []byte("parked")) }()
	waitDeferred(t, s, 1)

	if err := s.ResolveBoundaryChange(widened(2)); err != nil {
		t.Fatal(err)
	}
	if err := <-parked; err != nil {
		t.Fatalf("parked write failed: %v", err)
	}

	// a key only inside the widened range must pass validation and apply
	if err := s.Put(db.CFDefault, []byte("p"), []byte("1")); err != nil {
		t.Fatalf("Put after widening: %v", err)
	}
	expectValue(t, s, db.CFDefault, "b", "parked")
	expectValue(t, s, db.CFDefault, "p", "1")

	stats, err := s.Peer().Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.BoundaryChange {
		t.Errorf("boundary change still reported after resolution")
	}
}

func TestLeaveMergeReachesApplySide(t *testing.T) {
	s := newStore(t)

	if err := s.PrepareMerge(); err != nil {
		t.Fatal(err)
	}
	stats, err := s.Peer().Stats()
	if err != nil {
		t.Fatal(err)
	}
	if !stats.Merging {
		t.Errorf("pending merge not reported")
	}
	if err := s.EnterMerging(); err != nil {
		t.Fatal(err)
	}
	if err := s.LeaveMerge(widened(3)); err != nil {
		t.Fatal(err)
	}

	if err := s.Put(db.CFDefault, []byte("p"), []byte("merged")); err != nil {
		t.Fatalf("Put after merge: %v", err)
	}
	expectValue(t, s, db.CFDefault, "p", "merged")
	if got := s.Meta(); got.Epoch.Version != 3 || string(got.EndKey) != "z" {
		t.Errorf("meta after merge %s", got)
	}
}
