package store

import (
	"context"
	"time"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/ingest"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/peer"
	"github.com/ValentinKolb/pKV/lib/write"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

// DefaultRetries is the number of attempts for requests failing with a retryable error.
const DefaultRetries = 5

// PeerWriter implements the write operations of IStore on top of the peer of a partition.
type PeerWriter struct {
	Peer    *peer.Peer
	Timeout time.Duration
	Retries int
}

// Write submits ops and waits for the result.
//
// Requests refused before they reached the log (epoch mismatch, merge, dropped proposal) are
// retried with a fresh header. A request that timed out may still be applied and is not retried.
func (w PeerWriter) Write(ops ...write.Op) (write.Result, error) {
	retries := max(w.Retries, 1)
	var err error
	for i := 0; i < retries; i++ {
		var res write.Result
		res, err = w.write(ops)
		if err == nil {
			return res, nil
		}
		code := partition.CodeOf(err)
		if !partition.IsRetryable(err) || code == partition.RetCTimeout {
			return res, err
		}
		log.Infof("write: %s, retrying (%d/%d)...", code, i+1, retries)
		time.Sleep(w.Timeout / 10)
	}
	return write.Result{}, err
}

func (w PeerWriter) write(ops []write.Op) (write.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.Timeout)
	defer cancel()
	res, err := w.Peer.Write(ctx, ops...)
	if ctx.Err() != nil && err == ctx.Err() {
		return res, partition.NewError(partition.RetCTimeout, w.Peer.Meta().ID, "request timed out")
	}
	return res, err
}

func (w PeerWriter) Put(cf db.CF, key, value []byte) error {
	_, err := w.Write(write.Put(cf, key, value))
	return err
}

func (w PeerWriter) Delete(cf db.CF, key []byte) error {
	_, err := w.Write(write.Delete(cf, key))
	return err
}

func (w PeerWriter) DeleteRange(cf db.CF, start, end []byte) error {
	_, err := w.Write(write.DeleteRange(cf, start, end))
	return err
}

func (w PeerWriter) Ingest(files ...ingest.Descriptor) error {
	_, err := w.Write(write.Ingest(files...))
	return err
}
