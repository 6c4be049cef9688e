package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type Outpoint struct {
	Txid string
	VOut uint32
}

func (k *Outpoint) FromString(s string) error {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return fmt.Errorf("invalid outpoint string: %s", s)
	}
	if len(parts[0]) != 64 {
		return fmt.Errorf("invalid txid: %s", parts[0])
	}
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid vout string: %s", parts[1])
	}
	k.Txid = parts[0]
	k.VOut = uint32(vout)
	return nil
}

func (k Outpoint) String() string {
	return fmt.Sprintf("%s:%d", k.Txid, k.VOut)
}

// Less orders outpoints by txid, then by output index.
func (k Outpoint) Less(other Outpoint) bool {
	if k.Txid != other.Txid {
		return k.Txid < other.Txid
	}
	return k.VOut < other.VOut
}
