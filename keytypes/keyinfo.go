package keytypes

// NodeShareIndex records which share index a node holds for a key id.
type NodeShareIndex struct {
	NodeIndex  int `json:"node_index"`
	ShareIndex int `json:"share_index"`
}

// KeyInfo is the per-key metadata held by every node (spec §3). The
// mapping is append-only; recovery rewrites it by replacing an old node
// entry with a new one at the same share index (see ReplaceNode).
type KeyInfo struct {
	KeyType            KeyType          `json:"key_type"`
	PublicKey          HexBytes         `json:"public_key"`
	NodeToShareIndices []NodeShareIndex `json:"node_to_share_indices"`
}

// ShareIndices returns the set of share indices currently recorded.
func (ki KeyInfo) ShareIndices() []int {
	out := make([]int, 0, len(ki.NodeToShareIndices))
	for _, e := range ki.NodeToShareIndices {
		out = append(out, e.ShareIndex)
	}
	return out
}

// ReplaceNode replaces whatever node entry currently holds shareIndex
// with newNodeIndex, appending a new entry if none currently holds it.
// This is the append-only rewrite rule spec §3 describes for recovery.
func (ki *KeyInfo) ReplaceNode(shareIndex, newNodeIndex int) {
	for i := range ki.NodeToShareIndices {
		if ki.NodeToShareIndices[i].ShareIndex == shareIndex {
			ki.NodeToShareIndices[i].NodeIndex = newNodeIndex
			return
		}
	}
	ki.NodeToShareIndices = append(ki.NodeToShareIndices, NodeShareIndex{
		NodeIndex:  newNodeIndex,
		ShareIndex: shareIndex,
	})
}
