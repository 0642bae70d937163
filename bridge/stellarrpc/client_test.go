package stellarrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/require"
)

const testAccount = "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAWHF"

type fakeHandler func(method string, params json.RawMessage) (interface{}, *rpcError)

func newTestServer(t *testing.T, handle fakeHandler) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		params, _ := json.Marshal(req.Params)

		result, rpcErr := handle(req.Method, params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, WithRetries(2, time.Millisecond))
}

func TestGetAccount(t *testing.T) {
	accountID, err := xdr.AddressToAccountId(testAccount)
	require.NoError(t, err)
	entry := xdr.LedgerEntryData{
		Type: xdr.LedgerEntryTypeAccount,
		Account: &xdr.AccountEntry{
			AccountId: accountID,
			SeqNum:    xdr.SequenceNumber(4242),
		},
	}
	entryB64, err := xdr.MarshalBase64(entry)
	require.NoError(t, err)

	client := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		require.Equal(t, "getLedgerEntries", method)
		return GetLedgerEntriesResponse{
			Entries:      []LedgerEntryResult{{DataXDR: entryB64}},
			LatestLedger: 100,
		}, nil
	})

	account, err := client.GetAccount(context.Background(), testAccount)
	require.NoError(t, err)
	require.Equal(t, int64(4242), account.Sequence)
	require.Equal(t, testAccount, account.Address)
}

func TestGetAccountNotFound(t *testing.T) {
	client := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		return GetLedgerEntriesResponse{LatestLedger: 100}, nil
	})
	_, err := client.GetAccount(context.Background(), testAccount)
	require.ErrorContains(t, err, "not found")
}

func TestSimulateErrorPassthrough(t *testing.T) {
	client := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		return SimulateResponse{Error: "HostError: contract trapped", LatestLedger: 7}, nil
	})
	resp, err := client.SimulateTransaction(context.Background(), "AAAA")
	require.NoError(t, err)
	require.True(t, resp.IsError())
	require.Equal(t, "HostError: contract trapped", resp.Error)
}

func TestRPCErrorIsNotRetried(t *testing.T) {
	var calls int32
	client := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		atomic.AddInt32(&calls, 1)
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	})
	_, err := client.GetTransaction(context.Background(), "deadbeef")
	require.ErrorContains(t, err, "invalid params")
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTransportErrorIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID,
			"result": GetLatestLedgerResponse{Sequence: 55},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetries(2, time.Millisecond))
	resp, err := client.GetLatestLedger(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(55), resp.Sequence)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSendTransactionStatuses(t *testing.T) {
	client := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		return SendResponse{Status: SendStatusPending, Hash: "abc123"}, nil
	})
	resp, err := client.SendTransaction(context.Background(), "AAAA")
	require.NoError(t, err)
	require.Equal(t, SendStatusPending, resp.Status)
	require.Equal(t, "abc123", resp.Hash)
}

func TestGetTransactionNotFound(t *testing.T) {
	client := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		return GetTransactionResponse{Status: TxStatusNotFound, LatestLedger: 12}, nil
	})
	resp, err := client.GetTransaction(context.Background(), "deadbeef")
	require.NoError(t, err)
	require.Equal(t, TxStatusNotFound, resp.Status)
}
