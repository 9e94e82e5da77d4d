package storage

import "context"

// Kind names a storage tier.
type Kind string

const (
	KindKV       Kind = "kv"
	KindSession  Kind = "session"
	KindDatabase Kind = "database"
	KindCookie   Kind = "cookie"
	KindWorker   Kind = "worker"
)

// ReadOrder is the fixed priority in which tiers are consulted on read.
var ReadOrder = []Kind{KindKV, KindSession, KindDatabase, KindCookie, KindWorker}

// PriorityAll selects every active backend for a write.
const PriorityAll = "all"

// Backend is one storage tier. Read returns sentinel.ErrNotFound when nothing
// is stored and may return sentinel.ErrExpired for records it knows are stale.
type Backend interface {
	Kind() Kind
	Write(ctx context.Context, rec Record) error
	Read(ctx context.Context) (Record, error)
	Delete(ctx context.Context) error
}

func rank(k Kind) int {
	for i, kind := range ReadOrder {
		if kind == k {
			return i
		}
	}
	return len(ReadOrder)
}
