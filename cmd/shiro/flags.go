package main

import (
	"fmt"

	"github.com/shiro-wallet/shirod/internal/config"
	"github.com/urfave/cli/v2"
)

const (
	urlFlagName         = "url"
	passwordFlagName    = "password"
	mnemonicFlagName    = "mnemonic"
	chainUrlFlagName    = "chain-url"
	relayUrlFlagName    = "relay-url"
	countFlagName       = "count"
	sizeFlagName        = "size"
	feeRateFlagName     = "fee-rate"
	allFlagName         = "all"
	tickerFlagName      = "ticker"
	nameFlagName        = "name"
	supplyFlagName      = "supply"
	precisionFlagName   = "precision"
	assetIdFlagName     = "asset-id"
	amountFlagName      = "amount"
	invoiceFlagName     = "invoice"
	addressFlagName     = "address"
	transferIdFlagName  = "id"
	transferIdsFlagName = "ids"
	topicsFlagName      = "topics"
)

var (
	urlFlag = &cli.StringFlag{
		Name:  urlFlagName,
		Usage: "the url where to reach shirod",
		Value: fmt.Sprintf("http://127.0.0.1:%d", config.DefaultPort),
	}
	passwordFlag = &cli.StringFlag{
		Name:  passwordFlagName,
		Usage: "wallet password, prompted if not given",
	}
	mnemonicFlag = &cli.StringFlag{
		Name:  mnemonicFlagName,
		Usage: "mnemonic from which restore the wallet",
	}
	chainUrlFlag = &cli.StringFlag{
		Name:     chainUrlFlagName,
		Usage:    "the url of the esplora chain indexer",
		Required: true,
	}
	relayUrlFlag = &cli.StringFlag{
		Name:     relayUrlFlagName,
		Usage:    "the url of the consignment relay",
		Required: true,
	}
	countFlag = &cli.UintFlag{
		Name:  countFlagName,
		Usage: "number of utxos to create",
		Value: 5,
	}
	sizeFlag = &cli.Uint64Flag{
		Name:  sizeFlagName,
		Usage: "amount in sats of each created utxo, defaults to the daemon allocation size",
	}
	feeRateFlag = &cli.Uint64Flag{
		Name:  feeRateFlagName,
		Usage: "fee rate in sat/vbyte, estimated by the chain indexer if not given",
	}
	allFlag = &cli.BoolFlag{
		Name:  allFlagName,
		Usage: "include spent utxos",
	}
	tickerFlag = &cli.StringFlag{
		Name:     tickerFlagName,
		Usage:    "ticker of the asset to issue",
		Required: true,
	}
	nameFlag = &cli.StringFlag{
		Name:     nameFlagName,
		Usage:    "name of the asset to issue",
		Required: true,
	}
	supplyFlag = &cli.Uint64Flag{
		Name:     supplyFlagName,
		Usage:    "total supply of the asset to issue",
		Required: true,
	}
	precisionFlag = &cli.UintFlag{
		Name:  precisionFlagName,
		Usage: "number of decimal digits of the asset to issue",
	}
	assetIdFlag = func(required bool) *cli.StringFlag {
		return &cli.StringFlag{
			Name:     assetIdFlagName,
			Usage:    "id of the asset",
			Required: required,
		}
	}
	amountFlag = func(required bool) *cli.Uint64Flag {
		return &cli.Uint64Flag{
			Name:     amountFlagName,
			Usage:    "amount of asset units",
			Required: required,
		}
	}
	invoiceFlag = &cli.StringFlag{
		Name:     invoiceFlagName,
		Usage:    "invoice of the recipient",
		Required: true,
	}
	addressFlag = &cli.StringFlag{
		Name:     addressFlagName,
		Usage:    "bitcoin address where to drain the wallet",
		Required: true,
	}
	transferIdFlag = &cli.StringFlag{
		Name:     transferIdFlagName,
		Usage:    "id of the transfer",
		Required: true,
	}
	transferIdsFlag = &cli.StringSliceFlag{
		Name:  transferIdsFlagName,
		Usage: "ids of the transfers to delete, all failed transfers if not given",
	}
	topicsFlag = &cli.StringSliceFlag{
		Name:  topicsFlagName,
		Usage: "transfer or asset ids to filter events by",
	}
)
