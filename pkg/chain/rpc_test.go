package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers getMultipleAccounts from store
func fakeNode(t *testing.T, store map[string][]byte, calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		calls.Add(1)
		var keys []string
		var cfg accountsConfig
		if req.Method != "getMultipleAccounts" || len(req.Params) != 2 ||
			json.Unmarshal(req.Params[0], &keys) != nil || json.Unmarshal(req.Params[1], &cfg) != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if cfg.Encoding != "base64" {
			http.Error(w, "bad encoding", http.StatusBadRequest)
			return
		}

		value := make([]any, len(keys))
		for i, k := range keys {
			if raw, ok := store[k]; ok {
				value[i] = map[string]any{
					"data":  []string{base64.StdEncoding.EncodeToString(raw), "base64"},
					"owner": "11111111111111111111111111111111",
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]any{
				"context": map[string]any{"slot": 42},
				"value":   value,
			},
		})
	}))
}

func TestRPCFetcher(t *testing.T) {
	require := require.New(t)

	a, b, missing := crypto.Pubkey{1}, crypto.Pubkey{2}, crypto.Pubkey{3}
	store := map[string][]byte{
		a.String(): {0xde, 0xad},
		b.String(): {0xbe, 0xef, 0x01},
	}
	var calls atomic.Int32
	srv := fakeNode(t, store, &calls)
	defer srv.Close()

	f, err := DialRPC(context.Background(), srv.URL, "")
	require.NoError(err)
	defer f.Close()
	f.chunk = 2

	raws, err := f.GetAccounts(context.Background(), []crypto.Pubkey{a, missing, b})
	require.NoError(err)
	require.Equal([][]byte{{0xde, 0xad}, nil, {0xbe, 0xef, 0x01}}, raws)
	require.Equal(int32(2), calls.Load())
}

func TestRPCFetcherNodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"node is behind"}}`))
	}))
	defer srv.Close()

	f, err := DialRPC(context.Background(), srv.URL, "finalized")
	require.NoError(t, err)
	defer f.Close()

	_, err = f.GetAccounts(context.Background(), []crypto.Pubkey{{1}})
	require.ErrorContains(t, err, "node is behind")
}
