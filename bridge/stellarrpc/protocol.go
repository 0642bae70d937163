package stellarrpc

import (
	"fmt"

	"github.com/stellar/go/xdr"
)

// Transaction submission acknowledgment statuses returned by sendTransaction.
const (
	SendStatusPending       = "PENDING"
	SendStatusSuccess       = "SUCCESS"
	SendStatusDuplicate     = "DUPLICATE"
	SendStatusTryAgainLater = "TRY_AGAIN_LATER"
	SendStatusError         = "ERROR"
)

// Terminal and transient statuses returned by getTransaction. NOT_FOUND means
// "not yet observed", not "does not exist"; it is expected right after
// submission and must be polled past.
const (
	TxStatusNotFound = "NOT_FOUND"
	TxStatusSuccess  = "SUCCESS"
	TxStatusFailed   = "FAILED"
)

// GetHealthResponse is the response to the getHealth method.
type GetHealthResponse struct {
	Status                string `json:"status"`
	LatestLedger          uint32 `json:"latestLedger"`
	OldestLedger          uint32 `json:"oldestLedger"`
	LedgerRetentionWindow uint32 `json:"ledgerRetentionWindow"`
}

// GetLatestLedgerResponse is the response to the getLatestLedger method.
type GetLatestLedgerResponse struct {
	ID              string `json:"id"`
	ProtocolVersion uint32 `json:"protocolVersion"`
	Sequence        uint32 `json:"sequence"`
}

// LedgerEntryResult is one entry in a getLedgerEntries response.
type LedgerEntryResult struct {
	KeyXDR             string `json:"key"`
	DataXDR            string `json:"xdr"`
	LastModifiedLedger uint32 `json:"lastModifiedLedgerSeq"`
}

// GetLedgerEntriesResponse is the response to the getLedgerEntries method.
type GetLedgerEntriesResponse struct {
	Entries      []LedgerEntryResult `json:"entries"`
	LatestLedger uint32              `json:"latestLedger"`
}

// Account is the slice of account state the client needs: the sequence
// number consumed by the next transaction from that account.
type Account struct {
	Address  string
	Sequence int64
}

// SimulateHostFunctionResult carries the host function return value and the
// authorization entries computed by simulation.
type SimulateHostFunctionResult struct {
	Auth []string `json:"auth"`
	XDR  string   `json:"xdr"`
}

// SimulateResponse is the response to the simulateTransaction method. A
// populated Error field means the operation would not succeed against current
// ledger state; otherwise TransactionData and MinResourceFee describe the
// resource footprint to fold into the envelope before signing.
type SimulateResponse struct {
	Error           string                       `json:"error,omitempty"`
	TransactionData string                       `json:"transactionData,omitempty"`
	MinResourceFee  string                       `json:"minResourceFee,omitempty"`
	Results         []SimulateHostFunctionResult `json:"results,omitempty"`
	LatestLedger    uint32                       `json:"latestLedger"`
}

// IsError reports whether the simulation failed.
func (r *SimulateResponse) IsError() bool {
	return r.Error != ""
}

// ReturnValue decodes the simulated host function return value. The second
// return is false when the simulation produced no value.
func (r *SimulateResponse) ReturnValue() (xdr.ScVal, bool, error) {
	if r.IsError() || len(r.Results) == 0 || r.Results[0].XDR == "" {
		return xdr.ScVal{}, false, nil
	}
	var v xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(r.Results[0].XDR, &v); err != nil {
		return xdr.ScVal{}, false, fmt.Errorf("failed to decode simulation return value: %w", err)
	}
	return v, true, nil
}

// SendResponse is the synchronous acknowledgment from sendTransaction. It is
// distinct from final settlement; only getTransaction decides that.
type SendResponse struct {
	Status              string   `json:"status"`
	Hash                string   `json:"hash"`
	ErrorResultXDR      string   `json:"errorResultXdr,omitempty"`
	DiagnosticEventsXDR []string `json:"diagnosticEventsXdr,omitempty"`
	LatestLedger        uint32   `json:"latestLedger"`
}

// ErrorDetail renders the rejection reason from the error result XDR, falling
// back to the raw status when the result does not decode.
func (r *SendResponse) ErrorDetail() string {
	if detail := decodeResultCode(r.ErrorResultXDR); detail != "" {
		return detail
	}
	return r.Status
}

// GetTransactionResponse is the response to the getTransaction method.
type GetTransactionResponse struct {
	Status           string `json:"status"`
	LatestLedger     uint32 `json:"latestLedger"`
	OldestLedger     uint32 `json:"oldestLedger"`
	ApplicationOrder int32  `json:"applicationOrder,omitempty"`
	EnvelopeXDR      string `json:"envelopeXdr,omitempty"`
	ResultXDR        string `json:"resultXdr,omitempty"`
	ResultMetaXDR    string `json:"resultMetaXdr,omitempty"`
	Ledger           uint32 `json:"ledger,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
}

// ReturnValue decodes the host function return value from the transaction
// meta of a settled transaction. The second return is false when no value is
// available.
func (r *GetTransactionResponse) ReturnValue() (xdr.ScVal, bool, error) {
	if r.ResultMetaXDR == "" {
		return xdr.ScVal{}, false, nil
	}
	var meta xdr.TransactionMeta
	if err := xdr.SafeUnmarshalBase64(r.ResultMetaXDR, &meta); err != nil {
		return xdr.ScVal{}, false, fmt.Errorf("failed to decode transaction meta: %w", err)
	}
	if meta.V != 3 || meta.V3 == nil || meta.V3.SorobanMeta == nil {
		return xdr.ScVal{}, false, nil
	}
	return meta.V3.SorobanMeta.ReturnValue, true, nil
}

// FailureDetail renders the on-chain failure reason of a FAILED transaction.
func (r *GetTransactionResponse) FailureDetail() string {
	if detail := decodeResultCode(r.ResultXDR); detail != "" {
		return detail
	}
	return r.Status
}

// decodeResultCode extracts the transaction result code string from a base64
// TransactionResult.
func decodeResultCode(resultXDR string) string {
	if resultXDR == "" {
		return ""
	}
	var result xdr.TransactionResult
	if err := xdr.SafeUnmarshalBase64(resultXDR, &result); err != nil {
		return ""
	}
	return result.Result.Code.String()
}
