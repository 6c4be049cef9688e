package ports

import "context"

// LinkDialer opens and health-checks the links needed by an online wallet.
type LinkDialer interface {
	Dial(ctx context.Context, chainURL, relayURL string) (ChainService, RelayService, error)
}
