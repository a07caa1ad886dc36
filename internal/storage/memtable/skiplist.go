package memtable

import (
	"math/rand"

	"github.com/devrev/treasury/internal/model"
)

const (
	MaxLevel    = 16
	Probability = 0.5
)

// SkipListNode holds one account keyed by its base58 address
type SkipListNode struct {
	Key     string
	Account *model.Account
	Forward []*SkipListNode
}

// SkipList is an ordered account index. It is not safe for concurrent use;
// the owning store serializes access.
type SkipList struct {
	Head  *SkipListNode
	Level int
	Size  int
}

// NewSkipList creates a new skip list
func NewSkipList() *SkipList {
	head := &SkipListNode{
		Forward: make([]*SkipListNode, MaxLevel),
	}
	return &SkipList{
		Head:  head,
		Level: 0,
	}
}

func (sl *SkipList) randomLevel() int {
	level := 0
	for rand.Float64() < Probability && level < MaxLevel-1 {
		level++
	}
	return level
}

// findPredecessors fills update with the rightmost node before key on every level
func (sl *SkipList) findPredecessors(key string, update []*SkipListNode) *SkipListNode {
	current := sl.Head
	for i := sl.Level; i >= 0; i-- {
		for current.Forward[i] != nil && current.Forward[i].Key < key {
			current = current.Forward[i]
		}
		if update != nil {
			update[i] = current
		}
	}
	return current.Forward[0]
}

// Put inserts or replaces the account stored under its address
func (sl *SkipList) Put(acct *model.Account) {
	key := acct.Address.String()
	update := make([]*SkipListNode, MaxLevel)

	next := sl.findPredecessors(key, update)
	if next != nil && next.Key == key {
		next.Account = acct
		return
	}

	newLevel := sl.randomLevel()
	if newLevel > sl.Level {
		for i := sl.Level + 1; i <= newLevel; i++ {
			update[i] = sl.Head
		}
		sl.Level = newLevel
	}

	node := &SkipListNode{
		Key:     key,
		Account: acct,
		Forward: make([]*SkipListNode, newLevel+1),
	}
	for i := 0; i <= newLevel; i++ {
		node.Forward[i] = update[i].Forward[i]
		update[i].Forward[i] = node
	}

	sl.Size++
}

// Get returns the account stored under key
func (sl *SkipList) Get(key string) (*model.Account, bool) {
	next := sl.findPredecessors(key, nil)
	if next != nil && next.Key == key {
		return next.Account, true
	}
	return nil, false
}

// Delete removes key from the index
func (sl *SkipList) Delete(key string) bool {
	update := make([]*SkipListNode, MaxLevel)

	target := sl.findPredecessors(key, update)
	if target == nil || target.Key != key {
		return false
	}

	for i := 0; i <= sl.Level; i++ {
		if update[i].Forward[i] != target {
			break
		}
		update[i].Forward[i] = target.Forward[i]
	}

	for sl.Level > 0 && sl.Head.Forward[sl.Level] == nil {
		sl.Level--
	}

	sl.Size--
	return true
}

// Len returns the number of accounts in the index
func (sl *SkipList) Len() int {
	return sl.Size
}

// Iterator returns an iterator positioned before the first account
func (sl *SkipList) Iterator() *SkipListIterator {
	return &SkipListIterator{
		current: sl.Head,
	}
}

// SkipListIterator walks accounts in address order
type SkipListIterator struct {
	current *SkipListNode
}

// Next moves to the next element
func (it *SkipListIterator) Next() bool {
	if it.current == nil {
		return false
	}
	it.current = it.current.Forward[0]
	return it.current != nil
}

// Key returns the current address
func (it *SkipListIterator) Key() string {
	if it.current == nil {
		return ""
	}
	return it.current.Key
}

// Account returns the current account
func (it *SkipListIterator) Account() *model.Account {
	if it.current == nil {
		return nil
	}
	return it.current.Account
}
