package application

import (
	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	"github.com/shiro-wallet/shirod/pkg/errors"
)

// maxLinkFailures is the number of consecutive failed health checks after which
// an online wallet is moved offline.
const maxLinkFailures = 3

// connectivity tracks the online links of the wallet. It is guarded by the service lock.
type connectivity struct {
	state  domain.ConnectivityState
	handle *domain.ConnectivityHandle
	chain  ports.ChainService
	relay  ports.RelayService
	// attempt identifies the current connect attempt, a teardown bumps it so that
	// a dial started before it cannot complete.
	attempt  uint64
	failures int
}

func newConnectivity() *connectivity {
	return &connectivity{state: domain.Offline}
}

func (c *connectivity) isOnline() bool {
	return c.state == domain.Online
}

// beginConnect moves Offline to Connecting and returns the attempt to pass to
// completeConnect or abortConnect. The returned handle is non-nil if the wallet is
// already online, in which case the endpoints are ignored.
func (c *connectivity) beginConnect() (uint64, *domain.ConnectivityHandle, error) {
	switch c.state {
	case domain.Online:
		return 0, c.handle, nil
	case domain.Connecting:
		return 0, nil, errors.CONNECTION_IN_PROGRESS.New("wallet is already connecting")
	}
	c.attempt++
	c.state = domain.Connecting
	return c.attempt, nil, nil
}

// completeConnect moves Connecting to Online. It fails with WALLET_OFFLINE if the
// attempt was torn down while dialing.
func (c *connectivity) completeConnect(
	attempt uint64, handle *domain.ConnectivityHandle,
	chain ports.ChainService, relay ports.RelayService,
) error {
	if c.state != domain.Connecting || c.attempt != attempt {
		return errors.WALLET_OFFLINE.New("wallet went offline while connecting")
	}
	c.state = domain.Online
	c.handle = handle
	c.chain = chain
	c.relay = relay
	c.failures = 0
	return nil
}

func (c *connectivity) abortConnect(attempt uint64) {
	if c.state == domain.Connecting && c.attempt == attempt {
		c.state = domain.Offline
	}
}

func (c *connectivity) disconnect() {
	c.attempt++
	c.state = domain.Offline
	c.handle = nil
	c.chain = nil
	c.relay = nil
	c.failures = 0
}

// linkFailed records a failed health check and reports whether the links are
// considered lost. Lost links disconnect the wallet.
func (c *connectivity) linkFailed() bool {
	c.failures++
	if c.failures < maxLinkFailures {
		return false
	}
	c.disconnect()
	return true
}

func (c *connectivity) linkHealthy() {
	c.failures = 0
}

// links returns the chain and relay services or WALLET_OFFLINE.
func (c *connectivity) links() (ports.ChainService, ports.RelayService, error) {
	if !c.isOnline() {
		return nil, nil, errors.WALLET_OFFLINE.New("wallet is %s, go online first", c.state)
	}
	return c.chain, c.relay, nil
}
