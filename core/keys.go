package core

import (
	"encoding/binary"
)

// key prefixes of the governance key space
const (
	prefixVoter           byte = 0x01
	prefixVoterCount      byte = 0x02
	prefixProposal        byte = 0x03
	prefixVote            byte = 0x04
	prefixProposalCounter byte = 0x05
	prefixBlockHeight     byte = 0x06
)

func voterKey(who AccountID) []byte {
	return append([]byte{prefixVoter}, who.Bytes()...)
}

func proposalKey(id ProposalID) []byte {
	key := make([]byte, 5)
	key[0] = prefixProposal
	binary.BigEndian.PutUint32(key[1:], id)
	return key
}

// voteKey is (voter, proposal): at most one vote per pair.
func voteKey(who AccountID, id ProposalID) []byte {
	key := make([]byte, 0, 1+len(who)+4)
	key = append(key, prefixVote)
	key = append(key, who.Bytes()...)
	return binary.BigEndian.AppendUint32(key, id)
}

var (
	voterCountKey      = []byte{prefixVoterCount}
	proposalCounterKey = []byte{prefixProposalCounter}
	blockHeightKey     = []byte{prefixBlockHeight}
)

func encodeUint32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func encodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func decodeUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
