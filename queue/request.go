// request.go defines the queue element and its lifecycle states. Requests
// are persisted as JSON in the state store and expire 24h after their last
// write.
package queue

import "time"

// Status is the lifecycle state of a queued sponsorship request.
type Status string

// Request lifecycle states.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
)

// Source tags where a request entered the system.
type Source string

// Recognised request sources.
const (
	SourceBotchan Source = "botchan"
	SourceAPI     Source = "api"
	SourceWebhook Source = "webhook"
	SourceManual  Source = "manual"
)

// Request is one queued sponsorship. The signature fields are optional; when
// present the consumer verifies them before processing.
type Request struct {
	ID           string `json:"id"`
	ProtocolID   string `json:"protocolId"`
	AgentAddress string `json:"agentAddress"`
	AgentName    string `json:"agentName,omitempty"`

	TargetContract   string  `json:"targetContract,omitempty"`
	Calldata         string  `json:"calldata,omitempty"`
	EstimatedGas     uint64  `json:"estimatedGas"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd"`
	MaxGasLimit      uint64  `json:"maxGasLimit"`

	Source             Source `json:"source"`
	QueuedAt           string `json:"queuedAt"`
	Signature          string `json:"signature,omitempty"`
	SignatureTimestamp int64  `json:"signatureTimestamp,omitempty"`

	Status               Status `json:"status"`
	ProcessingStartedAt  string `json:"processingStartedAt,omitempty"`
	CompletedAt          string `json:"completedAt,omitempty"`
	FailedAt             string `json:"failedAt,omitempty"`

	TxHash        string  `json:"txHash,omitempty"`
	UserOpHash    string  `json:"userOpHash,omitempty"`
	ActualCostUSD float64 `json:"actualCostUsd,omitempty"`
	Error         string  `json:"error,omitempty"`

	RetryCount int `json:"retryCount"`
	MaxRetries int `json:"maxRetries"`
}

// HasSignature reports whether the request carries an HMAC signature.
func (r *Request) HasSignature() bool {
	return r.Signature != ""
}

// Result carries the execution outcome recorded by Complete.
type Result struct {
	TxHash        string
	UserOpHash    string
	ActualCostUSD float64
}

// Stats reports the length of each queue list.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Enqueued is the receipt returned by Enqueue.
type Enqueued struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

func rfc3339(t time.Time) string { return t.UTC().Format(time.RFC3339) }
