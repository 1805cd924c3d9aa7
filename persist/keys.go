// Package persist maps the engine's in-memory state onto the key-value
// layout a storage layer feeds back to the core on reload: collection
// metadata under $CM_<name>, documents under <collection_id>_S_<seq_id>,
// user-id mappings under <collection_id>_D_<user_id>, plus overrides,
// stop-words, symlinks and presets under their own prefixes. The store
// itself (and its durability) is out of scope; this package only owns
// the key grammar, the length-prefixed record codec, and the
// load/dump walk over an abstract scan interface.
package persist

import (
	"strconv"
	"strings"
)

// Reserved key prefixes, matching the persisted-state layout the core
// consumes on reload.
const (
	KeyCollectionIDCounter = "$CI"
	prefixCollectionMeta   = "$CM_"
	prefixOverride         = "$OI_"
	prefixStopWords        = "$CY_"
	prefixSymlink          = "$SL_"
	prefixPreset           = "$PS_"
)

// CollectionMetaKey returns the $CM_<name> key for a collection's meta
// JSON.
func CollectionMetaKey(name string) string { return prefixCollectionMeta + name }

// DocumentKey returns the <collection_id>_S_<seq_id> key for a stored
// document.
func DocumentKey(collectionID uint32, seqID uint32) string {
	return strconv.FormatUint(uint64(collectionID), 10) + "_S_" + strconv.FormatUint(uint64(seqID), 10)
}

// DocMappingKey returns the <collection_id>_D_<user_id> key mapping a
// user-supplied id to its seq_id.
func DocMappingKey(collectionID uint32, userID string) string {
	return strconv.FormatUint(uint64(collectionID), 10) + "_D_" + userID
}

// OverrideKey returns the $OI_<collection>_<id> key for one curation
// rule.
func OverrideKey(collection, ruleID string) string {
	return prefixOverride + collection + "_" + ruleID
}

// StopWordsKey returns the $CY_<collection>_<id> key for a named
// stop-word set.
func StopWordsKey(collection, setID string) string {
	return prefixStopWords + collection + "_" + setID
}

// SymlinkKey returns the $SL_<name> key for a collection alias.
func SymlinkKey(name string) string { return prefixSymlink + name }

// PresetKey returns the $PS_<name> key for a stored search preset.
func PresetKey(name string) string { return prefixPreset + name }

// CollectionPrefix is the key prefix shared by every per-document key
// of one collection. A collection delete removes every key under this
// prefix but leaves $CI untouched.
func CollectionPrefix(collectionID uint32) string {
	return strconv.FormatUint(uint64(collectionID), 10) + "_"
}

// DocumentPrefix covers only the <collection_id>_S_ document keys.
func DocumentPrefix(collectionID uint32) string {
	return CollectionPrefix(collectionID) + "S_"
}

// DocMappingPrefix covers only the <collection_id>_D_ mapping keys.
func DocMappingPrefix(collectionID uint32) string {
	return CollectionPrefix(collectionID) + "D_"
}

// CollectionNameFromMetaKey extracts <name> from a $CM_<name> key.
func CollectionNameFromMetaKey(key string) (string, bool) {
	if !strings.HasPrefix(key, prefixCollectionMeta) {
		return "", false
	}
	return key[len(prefixCollectionMeta):], true
}

// SeqIDFromDocumentKey extracts the seq_id from a
// <collection_id>_S_<seq_id> key.
func SeqIDFromDocumentKey(key string) (uint32, bool) {
	i := strings.Index(key, "_S_")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(key[i+len("_S_"):], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// SplitScopedKey splits a $OI_/$CY_-style key into its collection and
// trailing id, at the first "_" after the collection name. Collection
// names themselves cannot contain "_" in this layout.
func SplitScopedKey(key, prefix string) (collection, id string, ok bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", "", false
	}
	rest := key[len(prefix):]
	i := strings.IndexByte(rest, '_')
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
