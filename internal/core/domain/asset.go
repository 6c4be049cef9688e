package domain

import (
	"fmt"
	"regexp"
)

const MaxPrecision = 18

var tickerRegexp = regexp.MustCompile(`^[A-Z0-9]{1,8}$`)

// AssetContract is immutable once issued.
type AssetContract struct {
	AssetID     string
	Ticker      string
	Name        string
	TotalSupply uint64
	Precision   uint8
	IssuedBy    string
	IssuedAt    int64
	// Signature is the issuer schnorr signature over the contract terms.
	Signature string
}

func NewAssetContract(
	assetID, ticker, name string, totalSupply uint64, precision uint8, issuedBy string,
	issuedAt int64,
) (*AssetContract, error) {
	contract := &AssetContract{
		AssetID:     assetID,
		Ticker:      ticker,
		Name:        name,
		TotalSupply: totalSupply,
		Precision:   precision,
		IssuedBy:    issuedBy,
		IssuedAt:    issuedAt,
	}
	if err := contract.Validate(); err != nil {
		return nil, err
	}
	return contract, nil
}

func (c AssetContract) Validate() error {
	if c.AssetID == "" {
		return fmt.Errorf("missing asset id")
	}
	if !tickerRegexp.MatchString(c.Ticker) {
		return fmt.Errorf("invalid ticker %q, must be 1-8 upper case alphanumeric chars", c.Ticker)
	}
	if c.TotalSupply == 0 {
		return fmt.Errorf("total supply must be greater than 0")
	}
	if c.Precision > MaxPrecision {
		return fmt.Errorf("precision must be at most %d", MaxPrecision)
	}
	return nil
}

// AssetAllocation binds an amount of an asset to an unspent wallet output.
type AssetAllocation struct {
	AssetID  string
	Outpoint Outpoint
	Amount   uint64
}

type Balance struct {
	Settled   uint64
	Pending   uint64
	Spendable uint64
	Future    uint64
}
