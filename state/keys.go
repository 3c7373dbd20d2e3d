package state

import (
	"encoding/binary"

	"vestd/sale"
)

// Key layout: a short family prefix followed by the record identifier. Keys
// are stable across releases; changing them requires a manual migration.
const (
	prefixMeta      = "vestd/meta"
	prefixSchedule  = "vestd/schedule"
	prefixFinalized = "vestd/final/"
	prefixAdded     = "vestd/added/"
	prefixAddedIdx  = "vestd/added-index"
	prefixAccount   = "vestd/acct/"
	prefixAcctIdx   = "vestd/acct-index"
	prefixCode      = "vestd/code/"
	prefixCodeIdx   = "vestd/code-index"
)

func metaKey() []byte {
	return []byte(prefixMeta)
}

func scheduleKey() []byte {
	return []byte(prefixSchedule)
}

func dayKey(prefix string, day uint64) []byte {
	out := make([]byte, len(prefix)+8)
	copy(out, prefix)
	binary.BigEndian.PutUint64(out[len(prefix):], day)
	return out
}

func finalizedKey(day uint64) []byte {
	return dayKey(prefixFinalized, day)
}

func addedKey(day uint64) []byte {
	return dayKey(prefixAdded, day)
}

func addedIndexKey() []byte {
	return []byte(prefixAddedIdx)
}

func accountKey(addr sale.Address) []byte {
	return append([]byte(prefixAccount), addr[:]...)
}

func accountIndexKey() []byte {
	return []byte(prefixAcctIdx)
}

func codeKey(code string) []byte {
	return append([]byte(prefixCode), code...)
}

func codeIndexKey() []byte {
	return []byte(prefixCodeIdx)
}
