package store

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"

	"chatcore/pkg/logger"
)

// Key namespaces used in the device-local database.
//
//	tomb:chat:<chatID>            -> hide timestamp (ns, decimal)
//	tomb:msg:<chatID>:<msgID>     -> hide timestamp (ns, decimal)
//	cleared:<chatID>              -> restoration timestamp (ns, decimal)
//	counter:<key>                 -> unread count (decimal)
//	summary:<chatID>              -> cached chat summary JSON
const (
	PrefixChatTombstone = "tomb:chat:"
	PrefixMsgTombstone  = "tomb:msg:"
	PrefixCleared       = "cleared:"
	PrefixCounter       = "counter:"
	PrefixSummary       = "summary:"
)

var db *pebble.DB
var dbPath string

// counterMu serializes read-modify-write of counter keys; individual key
// writes are atomic in pebble but increments are not.
var counterMu sync.Mutex

// ErrNotOpened is returned when the store is used before Open.
var ErrNotOpened = errors.New("local store not opened; call store.Open first")

// Open opens (or creates) the device-local Pebble database at the given
// path and keeps a global handle for simple usage in this package.
func Open(path string) error {
	return OpenWithCache(path, 0)
}

// OpenWithCache opens the database with an explicit block cache size in
// bytes; zero keeps the engine default.
func OpenWithCache(path string, cacheSize int64) error {
	opts := &pebble.Options{}
	if cacheSize > 0 {
		cache := pebble.NewCache(cacheSize)
		defer cache.Unref()
		opts.Cache = cache
	}
	var err error
	logger.Info("opening_local_db", "path", path)
	db, err = pebble.Open(path, opts)
	if err != nil {
		logger.Error("local_db_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("local_db_opened", "path", path)
	return nil
}

// Close closes the opened database if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("local_db_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// SaveKey stores an arbitrary key/value pair. Callers should choose one of
// the package namespaces above.
func SaveKey(key string, value []byte) error {
	if db == nil {
		return ErrNotOpened
	}
	if err := db.Set([]byte(key), value, pebble.Sync); err != nil {
		logger.Error("save_key_failed", "key", key, "error", err)
		return err
	}
	return nil
}

// GetKey returns the raw value for the given key. IsNotFound reports
// missing keys.
func GetKey(key string) ([]byte, error) {
	if db == nil {
		return nil, ErrNotOpened
	}
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	return out, nil
}

// DeleteKey removes a key; deleting an absent key is not an error.
func DeleteKey(key string) error {
	if db == nil {
		return ErrNotOpened
	}
	if err := db.Delete([]byte(key), pebble.Sync); err != nil {
		logger.Error("delete_key_failed", "key", key, "error", err)
		return err
	}
	return nil
}

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound)
}

// ListKeys returns all keys (as strings) that start with the given prefix.
// If prefix is empty it returns all keys in the DB.
func ListKeys(prefix string) ([]string, error) {
	if db == nil {
		return nil, ErrNotOpened
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	if prefix == "" {
		for iter.First(); iter.Valid(); iter.Next() {
			out = append(out, string(append([]byte(nil), iter.Key()...)))
		}
		return out, iter.Error()
	}
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(append([]byte(nil), iter.Key()...)))
	}
	return out, iter.Error()
}

// HideChat writes the chat-level tombstone with the given hide timestamp.
// A hidden chat stays off list views until the tombstone is cleared.
func HideChat(chatID string, hideTS int64) error {
	if err := SaveKey(PrefixChatTombstone+chatID, tsBytes(hideTS)); err != nil {
		return err
	}
	logger.Info("chat_hidden", "chat", chatID, "hide_ts", hideTS)
	return nil
}

// ChatHideTS returns the hide timestamp for a chat tombstone, or ok=false
// when the chat is not hidden on this device.
func ChatHideTS(chatID string) (int64, bool, error) {
	v, err := GetKey(PrefixChatTombstone + chatID)
	if err != nil {
		if IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	ts, perr := parseTS(v)
	if perr != nil {
		return 0, false, fmt.Errorf("corrupt chat tombstone for %s: %w", chatID, perr)
	}
	return ts, true, nil
}

// ClearChatTombstone removes a chat tombstone and records the clear time
// so the sweeper can later prune the chat's message tombstones. The two
// writes go through one batch so a crash cannot leave the clear marker
// without the tombstone removal.
func ClearChatTombstone(chatID string, clearedTS int64) error {
	if db == nil {
		return ErrNotOpened
	}
	b := db.NewBatch()
	defer b.Close()
	if err := b.Delete([]byte(PrefixChatTombstone+chatID), nil); err != nil {
		return err
	}
	if err := b.Set([]byte(PrefixCleared+chatID), tsBytes(clearedTS), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("clear_chat_tombstone_failed", "chat", chatID, "error", err)
		return err
	}
	logger.Info("chat_tombstone_cleared", "chat", chatID)
	return nil
}

// ListHiddenChats returns chatID -> hide timestamp for every chat-level
// tombstone on this device. Used to re-derive restoration watches at
// startup.
func ListHiddenChats() (map[string]int64, error) {
	keys, err := ListKeys(PrefixChatTombstone)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		chatID := k[len(PrefixChatTombstone):]
		v, gerr := GetKey(k)
		if gerr != nil {
			if IsNotFound(gerr) {
				continue
			}
			return nil, gerr
		}
		ts, perr := parseTS(v)
		if perr != nil {
			logger.Warn("skipping_corrupt_tombstone", "key", k, "error", perr)
			continue
		}
		out[chatID] = ts
	}
	return out, nil
}

// HideMessage writes a message-level tombstone. Message tombstones are a
// pure visibility filter and carry no restoration semantics.
func HideMessage(chatID, msgID string, hideTS int64) error {
	return SaveKey(msgTombKey(chatID, msgID), tsBytes(hideTS))
}

// HideMessages tombstones a set of message ids in one atomic batch:
// either every id is hidden or, on commit failure, none are.
func HideMessages(chatID string, msgIDs []string, hideTS int64) error {
	if db == nil {
		return ErrNotOpened
	}
	if len(msgIDs) == 0 {
		return nil
	}
	b := db.NewBatch()
	defer b.Close()
	for _, id := range msgIDs {
		if err := b.Set([]byte(msgTombKey(chatID, id)), tsBytes(hideTS), nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("hide_messages_failed", "chat", chatID, "count", len(msgIDs), "error", err)
		return err
	}
	logger.Info("messages_hidden", "chat", chatID, "count", len(msgIDs))
	return nil
}

// MessageHidden reports whether a message-level tombstone exists.
func MessageHidden(chatID, msgID string) (bool, error) {
	_, err := GetKey(msgTombKey(chatID, msgID))
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// HiddenMessages returns the ids of all locally-hidden messages in a chat.
func HiddenMessages(chatID string) ([]string, error) {
	prefix := PrefixMsgTombstone + chatID + ":"
	keys, err := ListKeys(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k[len(prefix):])
	}
	return out, nil
}

// IncrCounter adds one to the counter stored under key and returns the
// new value.
func IncrCounter(key string) (int64, error) {
	if db == nil {
		return 0, ErrNotOpened
	}
	counterMu.Lock()
	defer counterMu.Unlock()
	cur := int64(0)
	if v, err := GetKey(PrefixCounter + key); err == nil {
		if n, perr := parseTS(v); perr == nil {
			cur = n
		}
	} else if !IsNotFound(err) {
		return 0, err
	}
	cur++
	if err := SaveKey(PrefixCounter+key, tsBytes(cur)); err != nil {
		return 0, err
	}
	return cur, nil
}

// GetCounter returns the counter value for key (0 when absent).
func GetCounter(key string) (int64, error) {
	v, err := GetKey(PrefixCounter + key)
	if err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return parseTS(v)
}

// ResetCounter zeroes the counter by removing its key.
func ResetCounter(key string) error {
	return DeleteKey(PrefixCounter + key)
}

// SaveSummary caches the latest chat summary JSON for a chat.
func SaveSummary(chatID string, data []byte) error {
	return SaveKey(PrefixSummary+chatID, data)
}

// GetSummary returns the cached summary JSON for a chat, if any.
func GetSummary(chatID string) ([]byte, error) {
	return GetKey(PrefixSummary + chatID)
}

func msgTombKey(chatID, msgID string) string {
	return PrefixMsgTombstone + chatID + ":" + msgID
}

func tsBytes(ts int64) []byte {
	return []byte(strconv.FormatInt(ts, 10))
}

func parseTS(v []byte) (int64, error) {
	return strconv.ParseInt(string(v), 10, 64)
}
