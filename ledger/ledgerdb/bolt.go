package ledgerdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/massiveideaslabs/pongwager/ledger"
)

var (
	ErrBucketNotFound = errors.New("bucket not found")
)

var (
	matchesBucket  = []byte("matches")
	playersBucket  = []byte("players")
	historyBucket  = []byte("history")
	accountsBucket = []byte("accounts")
)

// BoltDB persists matches, player records, histories and account
// balances in a single bbolt file. It implements both ledger.Store and
// ledger.Bank; the bank side keeps Pay atomic by applying every credit
// inside one write transaction.
type BoltDB struct {
	db *bolt.DB
}

var _ ledger.Store = (*BoltDB)(nil)
var _ ledger.Bank = (*BoltDB)(nil)

// NewBoltDB opens (creating if needed) the database at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{matchesBucket, playersBucket, historyBucket, accountsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

func matchKey(id uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], id)
	return k[:]
}

func (b *BoltDB) NextMatchID(ctx context.Context) (uint64, error) {
	var id uint64
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(matchesBucket)
		if bkt == nil {
			return ErrBucketNotFound
		}
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		return nil
	})
	return id, err
}

func (b *BoltDB) PutMatch(ctx context.Context, m *ledger.Match) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal match %d: %w", m.ID, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(matchesBucket)
		if bkt == nil {
			return ErrBucketNotFound
		}
		return bkt.Put(matchKey(m.ID), data)
	})
}

func (b *BoltDB) GetMatch(ctx context.Context, id uint64) (*ledger.Match, error) {
	var m *ledger.Match
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(matchesBucket)
		if bkt == nil {
			return ErrBucketNotFound
		}
		data := bkt.Get(matchKey(id))
		if data == nil {
			return nil
		}
		m = new(ledger.Match)
		return json.Unmarshal(data, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (b *BoltDB) PendingMatches(ctx context.Context) ([]*ledger.Match, error) {
	var out []*ledger.Match
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(matchesBucket)
		if bkt == nil {
			return ErrBucketNotFound
		}
		return bkt.ForEach(func(k, v []byte) error {
			var m ledger.Match
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.State == ledger.StatePending {
				mm := m
				out = append(out, &mm)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltDB) PutPlayerRecord(ctx context.Context, rec *ledger.PlayerRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal player record %s: %w", rec.Address, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(playersBucket)
		if bkt == nil {
			return ErrBucketNotFound
		}
		return bkt.Put(rec.Address[:], data)
	})
}

func (b *BoltDB) GetPlayerRecord(ctx context.Context, addr ledger.Address) (*ledger.PlayerRecord, error) {
	var rec *ledger.PlayerRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(playersBucket)
		if bkt == nil {
			return ErrBucketNotFound
		}
		data := bkt.Get(addr[:])
		if data == nil {
			return nil
		}
		rec = new(ledger.PlayerRecord)
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *BoltDB) AppendHistory(ctx context.Context, addr ledger.Address, matchID uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(historyBucket)
		if bkt == nil {
			return ErrBucketNotFound
		}
		var ids []uint64
		if data := bkt.Get(addr[:]); data != nil {
			if err := json.Unmarshal(data, &ids); err != nil {
				return err
			}
		}
		ids = append(ids, matchID)
		data, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		return bkt.Put(addr[:], data)
	})
}

func (b *BoltDB) History(ctx context.Context, addr ledger.Address) ([]uint64, error) {
	var ids []uint64
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(historyBucket)
		if bkt == nil {
			return ErrBucketNotFound
		}
		data := bkt.Get(addr[:])
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &ids)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// --- Bank ---

func getBalance(bkt *bolt.Bucket, addr ledger.Address) int64 {
	data := bkt.Get(addr[:])
	if len(data) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(data))
}

func putBalance(bkt *bolt.Bucket, addr ledger.Address, amount int64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(amount))
	return bkt.Put(addr[:], v[:])
}

// Deposit credits a player's account from the outside world. Deposits
// are how test fixtures and the daemon's faucet fund players; they are
// not part of the ledger's escrow accounting.
func (b *BoltDB) Deposit(ctx context.Context, to ledger.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit must be positive, got %d", amount)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(accountsBucket)
		if bkt == nil {
			return ErrBucketNotFound
		}
		return putBalance(bkt, to, getBalance(bkt, to)+amount)
	})
}

// Balance returns a player's spendable (non-escrowed) funds.
func (b *BoltDB) Balance(ctx context.Context, addr ledger.Address) (int64, error) {
	var bal int64
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(accountsBucket)
		if bkt == nil {
			return ErrBucketNotFound
		}
		bal = getBalance(bkt, addr)
		return nil
	})
	return bal, err
}

func (b *BoltDB) Debit(ctx context.Context, from ledger.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("debit must be positive, got %d", amount)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(accountsBucket)
		if bkt == nil {
			return ErrBucketNotFound
		}
		bal := getBalance(bkt, from)
		if bal < amount {
			return fmt.Errorf("account %s holds %d, needs %d: %w",
				from, bal, amount, ledger.ErrInsufficientFunds)
		}
		return putBalance(bkt, from, bal-amount)
	})
}

func (b *BoltDB) Pay(ctx context.Context, payments ...ledger.Payment) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(accountsBucket)
		if bkt == nil {
			return ErrBucketNotFound
		}
		for _, p := range payments {
			if p.Amount < 0 {
				return fmt.Errorf("payment to %s is negative: %d", p.To, p.Amount)
			}
			if err := putBalance(bkt, p.To, getBalance(bkt, p.To)+p.Amount); err != nil {
				return err
			}
		}
		return nil
	})
}
