package sink

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/RyanBlaney/zumbido/detect"
	"github.com/RyanBlaney/zumbido/logging"
)

var alertPrefix = []byte("alert/")

// HistoryOptions configures the alert history store
type HistoryOptions struct {
	// Dir holds the badger files. Required unless InMemory is set.
	Dir string
	// InMemory keeps everything in RAM, for tests
	InMemory bool
	Logger   logging.Logger
}

// History persists alert events in badger, msgpack-encoded and keyed by
// timestamp so they iterate in time order.
type History struct {
	db *badger.DB
}

func OpenHistory(opts HistoryOptions) (*History, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("history: Dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{
		logger: logging.OrGlobal(opts.Logger).WithFields(logging.Fields{
			"component": "history",
		}),
	})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open alert history: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) Name() string {
	return "history"
}

func historyKey(event detect.AlertEvent) []byte {
	key := make([]byte, 0, len(alertPrefix)+8+16)
	key = append(key, alertPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(event.Timestamp.UnixNano()))
	return append(key, event.ID[:]...)
}

func (h *History) OnAlertRaised(ctx context.Context, event detect.AlertEvent) error {
	return h.Put(event)
}

func (h *History) OnAlertCleared(ctx context.Context, event detect.AlertEvent) error {
	return h.Put(event)
}

// Put stores one event
func (h *History) Put(event detect.AlertEvent) error {
	value, err := msgpack.Marshal(&event)
	if err != nil {
		return fmt.Errorf("failed to encode alert event: %w", err)
	}
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.Set(historyKey(event), value)
	})
}

// Recent returns up to n events, newest first. n <= 0 returns all.
func (h *History) Recent(n int) ([]detect.AlertEvent, error) {
	var events []detect.AlertEvent
	err := h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = alertPrefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration starts from the last key under the prefix
		seek := append(append([]byte{}, alertPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(alertPrefix); it.Next() {
			var event detect.AlertEvent
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &event)
			})
			if err != nil {
				return fmt.Errorf("failed to decode alert event: %w", err)
			}
			events = append(events, event)
			if n > 0 && len(events) >= n {
				break
			}
		}
		return nil
	})
	return events, err
}

func (h *History) Close() error {
	return h.db.Close()
}

// badgerLogger routes badger's own messages into our logger, dropping
// its chatty info and debug output.
type badgerLogger struct {
	logger logging.Logger
}

func (b badgerLogger) Errorf(f string, v ...interface{}) {
	b.logger.Error(fmt.Errorf(f, v...), "badger")
}

func (b badgerLogger) Warningf(f string, v ...interface{}) {
	b.logger.Warn(fmt.Sprintf("badger: "+f, v...))
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
