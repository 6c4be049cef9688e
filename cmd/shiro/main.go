package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/urfave/cli/v2"
)

// Version will be set during build time
var Version string

type jsonMap = map[string]any

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "shiro"
	app.Usage = "shirod command line interface"
	app.Commands = append(
		app.Commands,
		&genseedCmd,
		&restoreCmd,
		&initCmd,
		&unlockCmd,
		&statusCmd,
		&dataCmd,
		&onlineCmd,
		&offlineCmd,
		&addressCmd,
		&createUtxosCmd,
		&unspentsCmd,
		&issueCmd,
		&assetsCmd,
		&balanceCmd,
		&invoiceCmd,
		&sendCmd,
		&drainCmd,
		&refreshCmd,
		&reconcileCmd,
		&transfersCmd,
		&transferCmd,
		&cancelCmd,
		&deleteTransfersCmd,
		&eventsCmd,
	)
	app.Flags = []cli.Flag{urlFlag}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}

var (
	genseedCmd = cli.Command{
		Name:   "genseed",
		Usage:  "Generate a new mnemonic, the wallet is not initialized",
		Action: genseedAction,
	}
	restoreCmd = cli.Command{
		Name:   "restore-keys",
		Usage:  "Show the keys derived from an existing mnemonic",
		Action: restoreAction,
		Flags:  []cli.Flag{mnemonicFlag},
	}
	initCmd = cli.Command{
		Name:   "init",
		Usage:  "Initialize the wallet with a mnemonic and an encryption password",
		Action: initAction,
		Flags:  []cli.Flag{mnemonicFlag, passwordFlag},
	}
	unlockCmd = cli.Command{
		Name:   "unlock",
		Usage:  "Unlock the wallet",
		Action: unlockAction,
		Flags:  []cli.Flag{passwordFlag},
	}
	statusCmd = cli.Command{
		Name:   "status",
		Usage:  "Show the wallet status",
		Action: getAction("/wallet/status"),
	}
	dataCmd = cli.Command{
		Name:   "data",
		Usage:  "Show the wallet identity and a summary of its state",
		Action: getAction("/wallet/data"),
	}
	onlineCmd = cli.Command{
		Name:   "online",
		Usage:  "Connect the wallet to the chain indexer and the consignment relay",
		Action: onlineAction,
		Flags:  []cli.Flag{chainUrlFlag, relayUrlFlag},
	}
	offlineCmd = cli.Command{
		Name:   "offline",
		Usage:  "Disconnect the wallet",
		Action: putAction("/wallet/go_offline"),
	}
	addressCmd = cli.Command{
		Name:   "address",
		Usage:  "Get a new bitcoin address to fund the wallet",
		Action: getAction("/wallet/address"),
	}
	createUtxosCmd = cli.Command{
		Name:   "create-utxos",
		Usage:  "Split wallet funds into utxos able to hold asset allocations",
		Action: createUtxosAction,
		Flags:  []cli.Flag{countFlag, sizeFlag, feeRateFlag},
	}
	unspentsCmd = cli.Command{
		Name:   "unspents",
		Usage:  "List the wallet utxos with their asset allocations",
		Action: unspentsAction,
		Flags:  []cli.Flag{allFlag},
	}
	issueCmd = cli.Command{
		Name:   "issue",
		Usage:  "Issue a new fungible asset",
		Action: issueAction,
		Flags:  []cli.Flag{tickerFlag, nameFlag, supplyFlag, precisionFlag},
	}
	assetsCmd = cli.Command{
		Name:   "assets",
		Usage:  "List the known assets with their balances",
		Action: getAction("/wallet/assets"),
	}
	balanceCmd = cli.Command{
		Name:   "balance",
		Usage:  "Show the balance of an asset",
		Action: balanceAction,
		Flags:  []cli.Flag{assetIdFlag(true)},
	}
	invoiceCmd = cli.Command{
		Name:   "invoice",
		Usage:  "Create an invoice to receive an asset",
		Action: invoiceAction,
		Flags:  []cli.Flag{assetIdFlag(false), amountFlag(false)},
	}
	sendCmd = cli.Command{
		Name:   "send",
		Usage:  "Send an amount of asset to the recipient of an invoice",
		Action: sendAction,
		Flags:  []cli.Flag{assetIdFlag(true), amountFlag(true), invoiceFlag, feeRateFlag},
	}
	drainCmd = cli.Command{
		Name:   "drain",
		Usage:  "Send all the bitcoin of the wallet to an address",
		Action: drainAction,
		Flags:  []cli.Flag{addressFlag, feeRateFlag},
	}
	refreshCmd = cli.Command{
		Name:   "refresh",
		Usage:  "Advance the pending transfers and sync the wallet utxos",
		Action: postAction("/wallet/refresh"),
	}
	reconcileCmd = cli.Command{
		Name:   "reconcile",
		Usage:  "Check the consistency of the wallet state",
		Action: postAction("/wallet/reconcile"),
	}
	transfersCmd = cli.Command{
		Name:   "transfers",
		Usage:  "List the wallet transfers",
		Action: transfersAction,
		Flags:  []cli.Flag{assetIdFlag(false)},
	}
	transferCmd = cli.Command{
		Name:   "transfer",
		Usage:  "Show a transfer",
		Action: transferAction,
		Flags:  []cli.Flag{transferIdFlag},
	}
	cancelCmd = cli.Command{
		Name:   "cancel",
		Usage:  "Cancel a transfer not yet broadcast",
		Action: cancelAction,
		Flags:  []cli.Flag{transferIdFlag},
	}
	deleteTransfersCmd = cli.Command{
		Name:   "delete-transfers",
		Usage:  "Delete failed transfers",
		Action: deleteTransfersAction,
		Flags:  []cli.Flag{transferIdsFlag},
	}
	eventsCmd = cli.Command{
		Name:   "events",
		Usage:  "Stream the transfer status changes",
		Action: eventsAction,
		Flags:  []cli.Flag{topicsFlag},
	}
)

func getAction(path string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		resp, err := get[jsonMap](ctx, path)
		if err != nil {
			return err
		}
		return printJSON(resp)
	}
}

func postAction(path string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		resp, err := post[jsonMap](ctx, path, nil)
		if err != nil {
			return err
		}
		return printJSON(resp)
	}
}

func putAction(path string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		resp, err := put[jsonMap](ctx, path, nil)
		if err != nil {
			return err
		}
		return printJSON(resp)
	}
}

func genseedAction(ctx *cli.Context) error {
	resp, err := post[jsonMap](ctx, "/keys", nil)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func restoreAction(ctx *cli.Context) error {
	mnemonic := ctx.String(mnemonicFlagName)
	if mnemonic == "" {
		return fmt.Errorf("missing mnemonic")
	}
	resp, err := put[jsonMap](ctx, "/keys", jsonMap{"mnemonic": mnemonic})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func initAction(ctx *cli.Context) error {
	mnemonic := ctx.String(mnemonicFlagName)
	if mnemonic == "" {
		keys, err := post[jsonMap](ctx, "/keys", nil)
		if err != nil {
			return err
		}
		mnemonic, _ = keys["mnemonic"].(string)
		fmt.Printf("generated mnemonic, write it down:\n%s\n\n", mnemonic)
	}
	password, err := readPassword(ctx)
	if err != nil {
		return err
	}

	resp, err := put[jsonMap](ctx, "/wallet", jsonMap{
		"mnemonic": mnemonic,
		"password": password,
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func unlockAction(ctx *cli.Context) error {
	password, err := readPassword(ctx)
	if err != nil {
		return err
	}
	resp, err := post[jsonMap](ctx, "/wallet/unlock", jsonMap{"password": password})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func onlineAction(ctx *cli.Context) error {
	resp, err := put[jsonMap](ctx, "/wallet/go_online", jsonMap{
		"chain_url": ctx.String(chainUrlFlagName),
		"relay_url": ctx.String(relayUrlFlagName),
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func createUtxosAction(ctx *cli.Context) error {
	resp, err := put[jsonMap](ctx, "/wallet/utxos", jsonMap{
		"count":    ctx.Uint(countFlagName),
		"size":     ctx.Uint64(sizeFlagName),
		"fee_rate": ctx.Uint64(feeRateFlagName),
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func unspentsAction(ctx *cli.Context) error {
	path := fmt.Sprintf("/wallet/unspents?include_spent=%t", ctx.Bool(allFlagName))
	resp, err := get[jsonMap](ctx, path)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func issueAction(ctx *cli.Context) error {
	resp, err := put[jsonMap](ctx, "/wallet/issue", jsonMap{
		"ticker":       ctx.String(tickerFlagName),
		"name":         ctx.String(nameFlagName),
		"total_supply": ctx.Uint64(supplyFlagName),
		"precision":    ctx.Uint(precisionFlagName),
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func balanceAction(ctx *cli.Context) error {
	path := "/wallet/asset_balance/" + url.PathEscape(ctx.String(assetIdFlagName))
	resp, err := get[jsonMap](ctx, path)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func invoiceAction(ctx *cli.Context) error {
	resp, err := put[jsonMap](ctx, "/wallet/invoice", jsonMap{
		"asset_id": ctx.String(assetIdFlagName),
		"amount":   ctx.Uint64(amountFlagName),
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func sendAction(ctx *cli.Context) error {
	resp, err := post[jsonMap](ctx, "/wallet/send", jsonMap{
		"asset_id": ctx.String(assetIdFlagName),
		"amount":   ctx.Uint64(amountFlagName),
		"invoice":  ctx.String(invoiceFlagName),
		"fee_rate": ctx.Uint64(feeRateFlagName),
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func drainAction(ctx *cli.Context) error {
	resp, err := put[jsonMap](ctx, "/wallet/drain_to", jsonMap{
		"address":  ctx.String(addressFlagName),
		"fee_rate": ctx.Uint64(feeRateFlagName),
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func transfersAction(ctx *cli.Context) error {
	path := "/wallet/transfers"
	if assetID := ctx.String(assetIdFlagName); assetID != "" {
		path += "?asset_id=" + url.QueryEscape(assetID)
	}
	resp, err := get[jsonMap](ctx, path)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func transferAction(ctx *cli.Context) error {
	path := "/wallet/transfers/" + url.PathEscape(ctx.String(transferIdFlagName))
	resp, err := get[jsonMap](ctx, path)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func cancelAction(ctx *cli.Context) error {
	path := fmt.Sprintf(
		"/wallet/transfers/%s/cancel", url.PathEscape(ctx.String(transferIdFlagName)),
	)
	resp, err := post[jsonMap](ctx, path, nil)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func deleteTransfersAction(ctx *cli.Context) error {
	resp, err := del[jsonMap](ctx, "/wallet/transfers", jsonMap{
		"transfer_ids": ctx.StringSlice(transferIdsFlagName),
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func eventsAction(ctx *cli.Context) error {
	return streamEvents(ctx, ctx.StringSlice(topicsFlagName))
}
