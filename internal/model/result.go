package model

// Status is the terminal routing decision for a document.
type Status string

const (
	StatusApproved    Status = "approved"
	StatusNeedsReview Status = "needs_review"
	StatusError       Status = "error"
)

// Complexity is the expected extraction difficulty.
type Complexity string

const (
	ComplexityLow    Complexity = "LOW"
	ComplexityMedium Complexity = "MEDIUM"
	ComplexityHigh   Complexity = "HIGH"
)

// QualityAssessment is produced once per document before extraction. It is
// advisory metadata; the router may be overridden.
type QualityAssessment struct {
	FileType         FileType   `json:"fileType"`
	QualityScore     float64    `json:"qualityScore"`
	Complexity       Complexity `json:"complexity"`
	TableCount       int        `json:"tableCount"`
	HasHandwriting   bool       `json:"hasHandwriting"`
	HasMergedCells   bool       `json:"hasMergedCells"`
	DetectedLanguage string     `json:"detectedLanguage"`
	SuggestedModel   string     `json:"suggestedModel"`
	Reasoning        string     `json:"reasoning"`
}

// ExtractionResult is the output of one extraction backend. SourceText is the
// text the model conditioned on and is what verification checks against.
type ExtractionResult struct {
	Items         []*LineItem    `json:"items"`
	Confidence    float64        `json:"confidence"`
	Language      string         `json:"language"`
	ProcessingLog ProcessingLog  `json:"processingLog"`
	SourceText    string         `json:"sourceText"`
	Model         string         `json:"model"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// VerificationResult reports issues found against the source text. Items are
// the same pointers the extractor produced.
type VerificationResult struct {
	Passed        bool                `json:"passed"`
	Items         []*LineItem         `json:"items"`
	Issues        []VerificationIssue `json:"issues"`
	Confidence    float64             `json:"confidence"`
	ProcessingLog ProcessingLog       `json:"processingLog"`
	Model         string              `json:"model,omitempty"`
}

// ErrorCount returns the number of error-severity issues.
func (v *VerificationResult) ErrorCount() int {
	if v == nil {
		return 0
	}
	return CountSeverity(v.Issues, SeverityError)
}

// ReconciliationResult reports corrections applied in place on flagged rows.
type ReconciliationResult struct {
	Items         []*LineItem         `json:"items"`
	Confidence    float64             `json:"confidence"`
	Changes       []string            `json:"changes"`
	Unresolved    []VerificationIssue `json:"unresolved"`
	Anomalies     []string            `json:"anomalies,omitempty"`
	ProcessingLog ProcessingLog       `json:"processingLog"`
	Model         string              `json:"model,omitempty"`
}

// Validation summarises completeness and outstanding issues.
type Validation struct {
	Completeness float64  `json:"completeness"`
	Confidence   float64  `json:"confidence"`
	Issues       []string `json:"issues"`
}

// ExtractedData is the merged document-level record.
type ExtractedData struct {
	Date      Confidence[string]  `json:"date"`
	Supplier  Confidence[string]  `json:"supplier"`
	Address   Confidence[string]  `json:"address"`
	Receiver  Confidence[string]  `json:"receiver"`
	Material  Confidence[string]  `json:"material"`
	WeightKg  Confidence[float64] `json:"weightKg"`
	Cost      Confidence[float64] `json:"cost"`
	TotalCO2  Confidence[float64] `json:"totalCo2Saved"`
	LineItems []*LineItem         `json:"lineItems"`

	Metadata      Metadata      `json:"metadata"`
	Validation    Validation    `json:"_validation"`
	ProcessingLog ProcessingLog `json:"_processingLog"`
}

// Metadata describes how the record was produced.
type Metadata struct {
	TotalRows      int     `json:"totalRows"`
	ProcessedRows  int     `json:"processedRows"`
	RejectedRows   int     `json:"rejectedRows"`
	ExtractionRate float64 `json:"extractionRate"`
	Chunked        bool    `json:"chunked"`
	ChunkCount     int     `json:"chunkCount,omitempty"`
	Model          string  `json:"model"`
	Language       string  `json:"language,omitempty"`
	Filename       string  `json:"filename"`
}

// FailureKind distinguishes why a document ended in error.
type FailureKind string

const (
	// FailureUnreadable means the document could not be read at all.
	FailureUnreadable FailureKind = "unreadable"
	// FailureIntegrity means a data-integrity guard tripped on extracted rows.
	FailureIntegrity FailureKind = "integrity"
)

// ProcessingResult is the pipeline's produced artifact.
type ProcessingResult struct {
	Success       bool           `json:"success"`
	Data          *ExtractedData `json:"data"`
	Status        Status         `json:"status"`
	Confidence    float64        `json:"confidence"`
	ProcessingLog ProcessingLog  `json:"processingLog"`
	ModelPath     string         `json:"modelPath"`
	Reason        string         `json:"reason,omitempty"`
	FailureKind   FailureKind    `json:"failureKind,omitempty"`
}
