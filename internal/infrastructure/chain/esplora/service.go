package esplora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries  = 2
	defaultConfTarget  = 2
	retryBackoffFactor = 100 * time.Millisecond
)

type Option func(*service)

func WithMaxRetries(retries int) Option {
	return func(s *service) {
		s.maxRetries = retries
	}
}

func WithConfTarget(blocks int) Option {
	return func(s *service) {
		s.confTarget = blocks
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *service) {
		s.httpClient = client
	}
}

type service struct {
	url        string
	httpClient *http.Client
	maxRetries int
	confTarget int
}

// NewService returns a chain client for an Esplora REST API (e.g. http://localhost:3000).
func NewService(url string, opts ...Option) (ports.ChainService, error) {
	if len(url) == 0 {
		return nil, fmt.Errorf("missing esplora url")
	}
	svc := &service{
		url:        strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{},
		maxRetries: defaultMaxRetries,
		confTarget: defaultConfTarget,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *service) GetUtxos(ctx context.Context, address string) ([]ports.ChainUtxo, error) {
	body, err := s.doGet(ctx, fmt.Sprintf("/address/%s/utxo", address))
	if err != nil {
		return nil, err
	}

	var utxos []utxo
	if err := json.Unmarshal(body, &utxos); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result := make([]ports.ChainUtxo, 0, len(utxos))
	for _, u := range utxos {
		result = append(result, ports.ChainUtxo{
			Txid:        u.TxID,
			VOut:        u.Vout,
			Amount:      uint64(u.Value),
			Confirmed:   u.Status.Confirmed,
			BlockHeight: u.Status.BlockHeight,
		})
	}
	return result, nil
}

func (s *service) GetConfirmations(ctx context.Context, txid string) (uint32, error) {
	body, err := s.doGet(ctx, fmt.Sprintf("/tx/%s/status", txid))
	if err != nil {
		return 0, err
	}

	var status txStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if !status.Confirmed {
		return 0, nil
	}

	tip, err := s.TipHeight(ctx)
	if err != nil {
		return 0, err
	}
	if tip < status.BlockHeight {
		// Tip lagging behind the tx status, the tx has at least one confirmation.
		return 1, nil
	}
	return uint32(tip-status.BlockHeight) + 1, nil
}

func (s *service) Broadcast(ctx context.Context, txHex string) (string, error) {
	resp, err := s.doRequest(ctx, http.MethodPost, "/tx", []byte(txHex))
	if err != nil {
		return "", err
	}
	// nolint:all
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf(
			"broadcast failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)),
		)
	}
	return strings.TrimSpace(string(body)), nil
}

// FeeRate returns the estimate for the configured confirmation target or, if missing,
// the closest target above it.
func (s *service) FeeRate(ctx context.Context) (chainfee.SatPerKVByte, error) {
	body, err := s.doGet(ctx, "/fee-estimates")
	if err != nil {
		return 0, err
	}

	var estimates feeEstimates
	if err := json.Unmarshal(body, &estimates); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	targets := make([]int, 0, len(estimates))
	for target := range estimates {
		blocks, err := strconv.Atoi(target)
		if err != nil {
			continue
		}
		targets = append(targets, blocks)
	}
	sort.Ints(targets)

	for _, target := range targets {
		if target < s.confTarget {
			continue
		}
		satPerVByte := estimates[strconv.Itoa(target)]
		if satPerVByte <= 0 {
			continue
		}
		return chainfee.SatPerKVByte(math.Round(satPerVByte * 1000)), nil
	}
	return 0, fmt.Errorf("no fee estimate available for target %d", s.confTarget)
}

func (s *service) TipHeight(ctx context.Context) (int64, error) {
	body, err := s.doGet(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse height: %w", err)
	}
	return height, nil
}

// doRequest performs an HTTP request, retrying on transport errors only.
func (s *service) doRequest(
	ctx context.Context, method, path string, body []byte,
) (*http.Response, error) {
	url := s.url + path

	var lastErr error
	for i := 0; i <= s.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "text/plain")
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
			log.WithError(err).Debugf("esplora request %s %s failed", method, path)
			if i < s.maxRetries {
				time.Sleep(time.Duration(i+1) * retryBackoffFactor)
			}
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", s.maxRetries+1, lastErr)
}

func (s *service) doGet(ctx context.Context, path string) ([]byte, error) {
	resp, err := s.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	// nolint:all
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/tx/") {
		return nil, ports.ErrTxNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
