// Package hashtable implements a bucketed, lock-free-read hash table
// keyed by int, used by fat32's block cache to index cached blocks by
// block number. The original carried a generic interface{} key (ustr,
// string, int, int32), a read-lock variant of Get kept only for
// benchmarking, String/Iter/Elems/Size introspection, and maxchain
// collision tracking; fat32.cache only ever calls Get/Set/Del with int
// keys, so all of that surface is trimmed rather than carried unused.
package hashtable

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

type elem_t struct {
	key     int
	value   interface{}
	keyHash uint32
	next    *elem_t
}

type bucket_t struct {
	sync.RWMutex
	first *elem_t
}

/// Hashtable_t maps int keys to values. Reads (Get) are lock-free;
/// writes (Set, Del) take the owning bucket's lock.
type Hashtable_t struct {
	table []*bucket_t
}

/// MkHash allocates a new Hashtable_t with the given number of buckets.
func MkHash(size int) *Hashtable_t {
	ht := &Hashtable_t{table: make([]*bucket_t, size)}
	for i := range ht.table {
		ht.table[i] = &bucket_t{}
	}
	return ht
}

func (ht *Hashtable_t) hash(key int) int {
	return int(khash(key) % uint32(len(ht.table)))
}

// Get looks up key without taking a lock: concurrent Set/Del only ever
// publish a fully-formed node via storeptr, so a racing reader either
// sees the old chain or the new one, never a partially-built node.
// Without an explicit memory model this relies on LoadPointer/
// StorePointer ordering loads and stores as plain pointer operations do
// on the target architecture.
func (ht *Hashtable_t) Get(key int) (interface{}, bool) {
	kh := khash(key)
	b := ht.table[ht.hash(key)]
	for e := loadptr(&b.first); e != nil; e = loadptr(&e.next) {
		if e.keyHash == kh && e.key == key {
			return e.value, true
		}
	}
	return nil, false
}

/// Set inserts or overwrites key's value, keeping each bucket's chain
/// sorted by hash so Del can detect a missing key without scanning past
/// where it would be.
func (ht *Hashtable_t) Set(key int, value interface{}) {
	kh := khash(key)
	b := ht.table[ht.hash(key)]
	b.Lock()
	defer b.Unlock()

	add := func(last *elem_t) {
		if last == nil {
			storeptr(&b.first, &elem_t{key: key, value: value, keyHash: kh, next: b.first})
		} else {
			storeptr(&last.next, &elem_t{key: key, value: value, keyHash: kh, next: last.next})
		}
	}

	var last *elem_t
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && e.key == key {
			e.value = value
			return
		}
		if kh < e.keyHash {
			add(last)
			return
		}
		last = e
	}
	add(last)
}

/// Del removes key, panicking if it isn't present — callers always hold
/// a cache entry they know was Set before calling Del.
func (ht *Hashtable_t) Del(key int) {
	kh := khash(key)
	b := ht.table[ht.hash(key)]
	b.Lock()
	defer b.Unlock()

	var last *elem_t
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && e.key == key {
			if last == nil {
				storeptr(&b.first, e.next)
			} else {
				storeptr(&last.next, e.next)
			}
			return
		}
		if kh < e.keyHash {
			break
		}
		last = e
	}
	panic("del of non-existing key")
}

func loadptr(e **elem_t) *elem_t {
	ptr := (*unsafe.Pointer)(unsafe.Pointer(e))
	p := atomic.LoadPointer(ptr)
	return (*elem_t)(unsafe.Pointer(p))
}

func storeptr(p **elem_t, n *elem_t) {
	ptr := (*unsafe.Pointer)(unsafe.Pointer(p))
	atomic.StorePointer(ptr, unsafe.Pointer(n))
}

func khash(key int) uint32 {
	return uint32(2654435761) * uint32(key)
}
