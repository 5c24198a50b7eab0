package models

// ReceiptFields are the expense fields read from a receipt image.
type ReceiptFields struct {
	Amount     *string `json:"amount"`
	Merchant   *string `json:"merchant"`
	Date       *string `json:"date"`
	Category   *string `json:"category"`
	Currency   *string `json:"currency"`
	Confidence float64 `json:"confidence"`
}

// ReceiptExtractionResult is returned from a receipt upload.
type ReceiptExtractionResult struct {
	SessionID        string        `json:"session_id"`
	Extracted        ReceiptFields `json:"extracted"`
	WorkflowInferred bool          `json:"workflow_inferred"`
}

// HealthResponse reports liveness and the active integration modes.
type HealthResponse struct {
	Status  string `json:"status"`
	Mode    string `json:"mode"`
	ActMode string `json:"act_mode"`
	Version string `json:"version"`
}
