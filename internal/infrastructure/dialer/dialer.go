package dialer

import (
	"context"
	"fmt"

	"github.com/shiro-wallet/shirod/internal/core/ports"
	"github.com/shiro-wallet/shirod/internal/infrastructure/chain/esplora"
	"github.com/shiro-wallet/shirod/internal/infrastructure/relay/jsonrpc"
	log "github.com/sirupsen/logrus"
)

type linkDialer struct {
	chainOpts []esplora.Option
	relayOpts []jsonrpc.Option
}

func New(chainOpts []esplora.Option, relayOpts []jsonrpc.Option) ports.LinkDialer {
	return &linkDialer{chainOpts, relayOpts}
}

// Dial builds the clients and checks both endpoints are reachable before returning them.
func (d *linkDialer) Dial(
	ctx context.Context, chainURL, relayURL string,
) (ports.ChainService, ports.RelayService, error) {
	chain, err := esplora.NewService(chainURL, d.chainOpts...)
	if err != nil {
		return nil, nil, err
	}
	relay, err := jsonrpc.NewClient(relayURL, d.relayOpts...)
	if err != nil {
		return nil, nil, err
	}

	tip, err := chain.TipHeight(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("chain backend %s unreachable: %w", chainURL, err)
	}
	info, err := relay.Info(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("relay %s unreachable: %w", relayURL, err)
	}

	log.WithFields(log.Fields{
		"tip":      tip,
		"protocol": info.Protocol,
		"version":  info.Version,
	}).Debug("links established")

	return chain, relay, nil
}
