package chain

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

// MaxAccountsPerCall is the node's limit for getMultipleAccounts
const MaxAccountsPerCall = 100

// RPCFetcher reads accounts from a JSON-RPC 2.0 node
type RPCFetcher struct {
	client     *rpc.Client
	commitment string
	chunk      int
}

// DialRPC connects to url. Commitment defaults to "confirmed".
func DialRPC(ctx context.Context, url, commitment string) (*RPCFetcher, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", url, err)
	}
	if commitment == "" {
		commitment = "confirmed"
	}
	return &RPCFetcher{client: client, commitment: commitment, chunk: MaxAccountsPerCall}, nil
}

func (f *RPCFetcher) Close() {
	f.client.Close()
}

type accountsConfig struct {
	Encoding   string `json:"encoding"`
	Commitment string `json:"commitment,omitempty"`
}

type accountInfo struct {
	// [payload, encoding]
	Data  []string `json:"data"`
	Owner string   `json:"owner"`
}

type multipleAccounts struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value []*accountInfo `json:"value"`
}

// GetAccounts implements Fetcher, splitting keys into node-sized calls
func (f *RPCFetcher) GetAccounts(ctx context.Context, keys []crypto.Pubkey) ([][]byte, error) {
	out := make([][]byte, 0, len(keys))
	for start := 0; start < len(keys); start += f.chunk {
		end := min(start+f.chunk, len(keys))
		raws, err := f.getChunk(ctx, keys[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, raws...)
	}
	return out, nil
}

func (f *RPCFetcher) getChunk(ctx context.Context, keys []crypto.Pubkey) ([][]byte, error) {
	params := make([]string, len(keys))
	for i, k := range keys {
		params[i] = k.String()
	}

	var res multipleAccounts
	cfg := accountsConfig{Encoding: "base64", Commitment: f.commitment}
	if err := f.client.CallContext(ctx, &res, "getMultipleAccounts", params, cfg); err != nil {
		return nil, fmt.Errorf("getMultipleAccounts: %w", err)
	}
	if len(res.Value) != len(keys) {
		return nil, fmt.Errorf("getMultipleAccounts: %d results for %d keys", len(res.Value), len(keys))
	}

	out := make([][]byte, len(keys))
	for i, info := range res.Value {
		if info == nil {
			continue
		}
		if len(info.Data) != 2 || info.Data[1] != "base64" {
			return nil, fmt.Errorf("account %s: unexpected data encoding %v", keys[i].Short(), info.Data)
		}
		raw, err := base64.StdEncoding.DecodeString(info.Data[0])
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", keys[i].Short(), err)
		}
		out[i] = raw
	}
	return out, nil
}
