package auth

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"
)

const badgerKeyPrefix = "guest:"

// BadgerRepository — встраиваемое хранилище записей гостей.
// Значения сериализуются в JSON и сжимаются zstd: списки секретов
// у старых гостей разрастаются заметно.
type BadgerRepository struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewBadgerRepository открывает базу в указанной директории
func NewBadgerRepository(dir string) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("auth: open badger at %s: %w", dir, err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, err
	}
	return &BadgerRepository{db: db, enc: enc, dec: dec}, nil
}

func (b *BadgerRepository) Get(_ context.Context, providerUserID string) (*GuestRecord, error) {
	var record GuestRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + providerUserID))
		if err == badger.ErrKeyNotFound {
			return ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw, err := b.dec.DecodeAll(val, nil)
			if err != nil {
				return fmt.Errorf("auth: decompress record: %w", err)
			}
			return json.Unmarshal(raw, &record)
		})
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (b *BadgerRepository) Put(_ context.Context, record *GuestRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("auth: marshal record: %w", err)
	}
	compressed := b.enc.EncodeAll(raw, nil)
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+record.ProviderUserID), compressed)
	})
}

func (b *BadgerRepository) Close(context.Context) error {
	b.enc.Close()
	b.dec.Close()
	return b.db.Close()
}
