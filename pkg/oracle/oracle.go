// Package oracle implements the timestamp oracle: a strictly monotonic
// counter that survives process restarts. It is the sole source of
// transaction start and commit timestamps for the Percolator protocol.
package oracle

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cuemby/percokv/pkg/log"
	"github.com/cuemby/percokv/pkg/metrics"
)

const checkpointFile = ".tso"

// Oracle hands out strictly increasing timestamps. A handle is safe for
// concurrent use.
type Oracle struct {
	counter uint64 // next value to hand out; accessed only via atomic ops
	path    string
	mu      sync.Mutex // orders increments with their checkpoints
}

// Open restores the oracle's counter from dir/.tso, defaulting to 1 if the
// file is missing or unparseable.
func Open(dir string) (*Oracle, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("oracle: create dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, checkpointFile)

	start := uint64(1)
	if data, err := os.ReadFile(path); err == nil {
		if v, perr := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64); perr == nil {
			start = v
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("oracle: read checkpoint: %w", err)
	}

	o := &Oracle{counter: start, path: path}
	return o, nil
}

// Next atomically increments the in-memory counter, persists the new value
// with a create-truncate-write-flush, and returns the pre-increment value.
func (o *Oracle) Next() (uint64, error) {
	o.mu.Lock()
	ts := atomic.AddUint64(&o.counter, 1) - 1
	err := o.checkpoint(ts + 1)
	o.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("oracle: checkpoint: %w", err)
	}
	metrics.OracleTimestampsIssuedTotal.Inc()
	metrics.OracleLastTimestamp.Set(float64(ts))
	log.WithComponent("oracle").Debug().Uint64("ts", ts).Msg("issued timestamp")
	return ts, nil
}

func (o *Oracle) checkpoint(next uint64) error {
	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.FormatUint(next, 10)); err != nil {
		return err
	}
	return f.Sync()
}
