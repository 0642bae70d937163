// Package harness provides a scriptable in-process Soroban RPC endpoint for
// end-to-end tests. Defaults are permissive: accounts exist, simulations
// succeed, submissions are accepted and settle on the first poll. Tests
// override individual behaviors to script failure scenarios.
package harness

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/stellar/go/xdr"

	"github.com/kalefi/forwards/bridge/stellarrpc"
)

// FakeLedger is an httptest-backed Soroban RPC endpoint.
type FakeLedger struct {
	server *httptest.Server

	mu           sync.Mutex
	latestLedger uint32
	accounts     map[string]int64
	simulate     func(envelopeXDR string) *stellarrpc.SimulateResponse
	send         func(signedXDR string, n int) *stellarrpc.SendResponse
	statuses     map[string][]stellarrpc.GetTransactionResponse

	sendCount int
	simCount  int
	getCount  int
}

// NewFakeLedger starts the endpoint. Callers own shutdown via Close.
func NewFakeLedger() *FakeLedger {
	f := &FakeLedger{
		latestLedger: 1000,
		accounts:     make(map[string]int64),
		statuses:     make(map[string][]stellarrpc.GetTransactionResponse),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// URL returns the endpoint URL.
func (f *FakeLedger) URL() string { return f.server.URL }

// Close shuts the endpoint down.
func (f *FakeLedger) Close() { f.server.Close() }

// SetAccount registers an account at a sequence number.
func (f *FakeLedger) SetAccount(address string, sequence int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[address] = sequence
}

// AccountSequence reports the current sequence number of a registered
// account.
func (f *FakeLedger) AccountSequence(address string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[address]
}

// SetLatestLedger sets the reported latest ledger sequence.
func (f *FakeLedger) SetLatestLedger(sequence uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestLedger = sequence
}

// FailSimulations makes every simulation fail with the given message.
func (f *FakeLedger) FailSimulations(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulate = func(string) *stellarrpc.SimulateResponse {
		return &stellarrpc.SimulateResponse{Error: message}
	}
}

// OnSimulate overrides simulation behavior entirely.
func (f *FakeLedger) OnSimulate(fn func(envelopeXDR string) *stellarrpc.SimulateResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulate = fn
}

// OnSend overrides submission behavior; n counts submissions starting at 1.
func (f *FakeLedger) OnSend(fn func(signedXDR string, n int) *stellarrpc.SendResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.send = fn
}

// ScriptTransaction queues getTransaction responses for a hash; the last one
// repeats once the queue drains.
func (f *FakeLedger) ScriptTransaction(hash string, responses ...stellarrpc.GetTransactionResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[hash] = responses
}

// SendCount reports how many transactions were submitted.
func (f *FakeLedger) SendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCount
}

// PollCount reports how many getTransaction calls were served.
func (f *FakeLedger) PollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCount
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func (f *FakeLedger) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := f.dispatch(req.Method, req.Params)
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if err != nil {
		resp["error"] = map[string]interface{}{"code": -32000, "message": err.Error()}
	} else {
		resp["result"] = result
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *FakeLedger) dispatch(method string, params json.RawMessage) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch method {
	case "getHealth":
		return stellarrpc.GetHealthResponse{Status: "healthy", LatestLedger: f.latestLedger}, nil

	case "getLatestLedger":
		return stellarrpc.GetLatestLedgerResponse{Sequence: f.latestLedger, ProtocolVersion: 21}, nil

	case "getLedgerEntries":
		var p struct {
			Keys []string `json:"keys"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return f.ledgerEntries(p.Keys)

	case "simulateTransaction":
		f.simCount++
		var p struct {
			Transaction string `json:"transaction"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if f.simulate != nil {
			return f.simulate(p.Transaction), nil
		}
		return stellarrpc.SimulateResponse{LatestLedger: f.latestLedger}, nil

	case "sendTransaction":
		f.sendCount++
		var p struct {
			Transaction string `json:"transaction"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if f.send != nil {
			return f.send(p.Transaction, f.sendCount), nil
		}
		if rejected := f.checkSequence(p.Transaction); rejected != nil {
			return *rejected, nil
		}
		return stellarrpc.SendResponse{
			Status: stellarrpc.SendStatusPending,
			Hash:   fmt.Sprintf("tx-%d", f.sendCount),
		}, nil

	case "getTransaction":
		f.getCount++
		var p struct {
			Hash string `json:"hash"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		queue := f.statuses[p.Hash]
		if len(queue) == 0 {
			// Unscripted transactions settle immediately.
			return stellarrpc.GetTransactionResponse{
				Status: stellarrpc.TxStatusSuccess,
				Ledger: f.latestLedger,
			}, nil
		}
		next := queue[0]
		if len(queue) > 1 {
			f.statuses[p.Hash] = queue[1:]
		}
		return next, nil

	default:
		return nil, fmt.Errorf("method %s not supported", method)
	}
}

// checkSequence enforces sequence discipline for registered accounts: the
// envelope must carry exactly the account's sequence plus one. An accepted
// submission consumes the number, so a replayed or stale envelope is rejected
// with txBAD_SEQ like a real network. Returns nil when the submission is
// acceptable.
func (f *FakeLedger) checkSequence(envelopeXDR string) *stellarrpc.SendResponse {
	var env xdr.TransactionEnvelope
	if err := xdr.SafeUnmarshalBase64(envelopeXDR, &env); err != nil || env.V1 == nil {
		return nil
	}
	address := env.V1.Tx.SourceAccount.Address()
	seq := int64(env.V1.Tx.SeqNum)
	current, ok := f.accounts[address]
	if !ok {
		return nil
	}
	if seq != current+1 {
		return &stellarrpc.SendResponse{
			Status:         stellarrpc.SendStatusError,
			ErrorResultXDR: badSeqResult(),
		}
	}
	f.accounts[address] = seq
	return nil
}

func badSeqResult() string {
	result := xdr.TransactionResult{
		Result: xdr.TransactionResultResult{Code: xdr.TransactionResultCodeTxBadSeq},
	}
	b64, err := xdr.MarshalBase64(result)
	if err != nil {
		return ""
	}
	return b64
}

func (f *FakeLedger) ledgerEntries(keys []string) (interface{}, error) {
	resp := stellarrpc.GetLedgerEntriesResponse{LatestLedger: f.latestLedger}
	for _, keyB64 := range keys {
		var key xdr.LedgerKey
		if err := xdr.SafeUnmarshalBase64(keyB64, &key); err != nil {
			return nil, fmt.Errorf("bad ledger key: %w", err)
		}
		if key.Type != xdr.LedgerEntryTypeAccount || key.Account == nil {
			continue
		}
		address := key.Account.AccountId.Address()
		seq, ok := f.accounts[address]
		if !ok {
			continue
		}
		data := xdr.LedgerEntryData{
			Type: xdr.LedgerEntryTypeAccount,
			Account: &xdr.AccountEntry{
				AccountId: key.Account.AccountId,
				SeqNum:    xdr.SequenceNumber(seq),
			},
		}
		dataB64, err := xdr.MarshalBase64(data)
		if err != nil {
			return nil, err
		}
		resp.Entries = append(resp.Entries, stellarrpc.LedgerEntryResult{
			KeyXDR:  keyB64,
			DataXDR: dataB64,
		})
	}
	return resp, nil
}
