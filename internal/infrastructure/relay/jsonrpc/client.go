package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// EndpointPrefix marks relay endpoints speaking JSON-RPC over HTTP.
const EndpointPrefix = "rgbhttpjsonrpc:"

type Option func(*client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *client) {
		c.httpClient = httpClient
	}
}

type client struct {
	url        string
	httpClient *http.Client
}

// NewClient accepts either a plain url or one prefixed by EndpointPrefix.
func NewClient(endpoint string, opts ...Option) (ports.RelayService, error) {
	url := strings.TrimPrefix(endpoint, EndpointPrefix)
	if len(url) == 0 {
		return nil, fmt.Errorf("missing relay url")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("invalid relay endpoint %s, must be an http(s) url", endpoint)
	}

	c := &client{
		url:        url,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *client) Info(ctx context.Context) (*ports.RelayInfo, error) {
	var result infoResult
	found, err := c.call(ctx, methodServerInfo, nil, &result)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("empty server info")
	}
	return &ports.RelayInfo{
		Protocol: result.Protocol,
		Version:  result.Version,
	}, nil
}

func (c *client) RegisterAsset(ctx context.Context, info ports.ContractInfo) error {
	_, err := c.call(ctx, methodAssetRegister, toContract(info), nil)
	return err
}

func (c *client) PostCommitment(ctx context.Context, commitment ports.Commitment) error {
	_, err := c.call(ctx, methodConsignmentPost, consignment{
		TransferID:  commitment.TransferID,
		RecipientID: commitment.RecipientID,
		AssetID:     commitment.AssetID,
		Amount:      commitment.Amount,
		Txid:        commitment.Txid,
		TxHex:       commitment.TxHex,
		Vout:        commitment.VOut,
		Commitment:  commitment.Commitment,
		Contract:    toContract(commitment.Contract),
	}, nil)
	return err
}

func (c *client) QueryIncoming(
	ctx context.Context, recipientID string,
) (*ports.Commitment, error) {
	return c.getConsignment(ctx, methodConsignmentGet, recipientParams{recipientID})
}

func (c *client) GetTransfer(ctx context.Context, transferID string) (*ports.Commitment, error) {
	return c.getConsignment(ctx, methodTransferGet, transferParams{transferID})
}

func (c *client) Ack(ctx context.Context, recipientID string, accepted bool) error {
	_, err := c.call(ctx, methodAckPost, ackParams{recipientID, accepted}, nil)
	return err
}

func (c *client) getConsignment(
	ctx context.Context, method string, params any,
) (*ports.Commitment, error) {
	var result consignment
	found, err := c.call(ctx, method, params, &result)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &ports.Commitment{
		TransferID:  result.TransferID,
		RecipientID: result.RecipientID,
		AssetID:     result.AssetID,
		Amount:      result.Amount,
		Txid:        result.Txid,
		TxHex:       result.TxHex,
		VOut:        result.Vout,
		Commitment:  result.Commitment,
		Contract: ports.ContractInfo{
			AssetID:     result.Contract.AssetID,
			Ticker:      result.Contract.Ticker,
			Name:        result.Contract.Name,
			TotalSupply: result.Contract.TotalSupply,
			Precision:   result.Contract.Precision,
			IssuedBy:    result.Contract.IssuedBy,
			IssuedAt:    result.Contract.IssuedAt,
			Signature:   result.Contract.Signature,
		},
	}, nil
}

// call sends a JSON-RPC request. It reports whether a non-null result was decoded into out.
// Errors returned by the relay wrap ports.ErrRelayRejected.
func (c *client) call(ctx context.Context, method string, params, out any) (bool, error) {
	id := uuid.New().String()
	body, err := json.Marshal(request{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to make request: %w", err)
	}
	// nolint:all
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return false, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if rpcResp.ID != id {
		return false, fmt.Errorf("response id %s does not match request id %s", rpcResp.ID, id)
	}
	if rpcResp.Error != nil {
		log.WithField("method", method).Debugf(
			"relay returned error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message,
		)
		return false, fmt.Errorf(
			"%w: %s (code %d)", ports.ErrRelayRejected, rpcResp.Error.Message, rpcResp.Error.Code,
		)
	}

	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return true, nil
}

func toContract(info ports.ContractInfo) contract {
	return contract{
		AssetID:     info.AssetID,
		Ticker:      info.Ticker,
		Name:        info.Name,
		TotalSupply: info.TotalSupply,
		Precision:   info.Precision,
		IssuedBy:    info.IssuedBy,
		IssuedAt:    info.IssuedAt,
		Signature:   info.Signature,
	}
}
