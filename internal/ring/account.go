package ring

import "github.com/mr-tron/base58"

// AccountKey is the fixed-width conflict-domain key every transaction's
// read and write sets are expressed in terms of.
type AccountKey [32]byte

// String renders the key the way account-keyed chains in this domain
// conventionally display them.
func (k AccountKey) String() string {
	return base58.Encode(k[:])
}
