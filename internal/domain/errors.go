package domain

import "fmt"

// ErrorCategory groups TaxonomyError codes.
type ErrorCategory string

// Error categories.
const (
	CategoryData       ErrorCategory = "data"
	CategoryValidation ErrorCategory = "validation"
	CategoryCarrier    ErrorCategory = "carrier"
	CategorySystem     ErrorCategory = "system"
	CategoryAuth       ErrorCategory = "auth"
)

// TaxonomyError is a stable, machine-readable error carrying a category-numbered
// code, a human message, and a remediation string.
type TaxonomyError struct {
	Code        string
	Category    ErrorCategory
	Message     string
	Remediation string
	Retryable   bool
}

func (e *TaxonomyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// errorDefs is the registry of stable codes. Message and Remediation on a
// TaxonomyError built via NewTaxonomyError are filled in from this table;
// the caller supplies only the interpolated Message when it differs.
var errorDefs = map[string]struct {
	category    ErrorCategory
	title       string
	remediation string
	retryable   bool
}{
	// Data (E-1xxx)
	"E-1001": {CategoryData, "Missing Required Field", "Add the missing field to the data source and retry.", false},
	"E-1002": {CategoryData, "Empty Data Source", "Check filter criteria or verify the data source contains rows.", false},
	"E-1003": {CategoryData, "Invalid Data Type", "Correct the data type in the source and retry.", false},

	// Validation (E-2xxx)
	"E-2001": {CategoryValidation, "Invalid ZIP Code", "Use a 5 or 9 digit US ZIP code.", false},
	"E-2002": {CategoryValidation, "Invalid State Code", "Use a standard 2-letter US state code.", false},
	"E-2003": {CategoryValidation, "Invalid Phone Number", "Phone numbers should be 10 digits.", false},
	"E-2004": {CategoryValidation, "Invalid Weight", "Weight must be a positive number.", false},
	"E-2005": {CategoryValidation, "Address Too Long", "Shorten the address line to 35 characters or fewer.", false},
	"E-2013": {CategoryValidation, "International Shipment Missing Field", "Provide the required customs field for international shipments.", false},
	"E-2020": {CategoryValidation, "Invalid HS Code", "Provide a valid Harmonized System code.", false},
	"E-2021": {CategoryValidation, "Unsupported Lane", "The origin/destination pair is not serviceable by this carrier.", false},
	"E-2022": {CategoryValidation, "Ambiguous Billing", "Resolve the ambiguous billing configuration before shipping.", false},
	"E-2023": {CategoryValidation, "Structural Field Required", "Populate all structural fields required by the mapping.", false},

	// Carrier (E-3xxx)
	"E-3001": {CategoryCarrier, "Carrier Service Unavailable", "Wait a few minutes and retry.", true},
	"E-3002": {CategoryCarrier, "Carrier Rate Limit Exceeded", "Wait and retry with a smaller batch.", true},
	"E-3003": {CategoryCarrier, "Carrier Address Validation Failed", "Verify the address is complete and correct.", false},
	"E-3004": {CategoryCarrier, "Carrier Service Not Available For Lane", "Try a different service level or verify the destination is serviceable.", false},
	"E-3005": {CategoryCarrier, "Carrier Customs Validation Failed", "Correct the customs declaration and retry.", false},
	"E-3006": {CategoryCarrier, "Unknown Carrier Error", "Contact support with the carrier's raw error message.", false},

	// System (E-4xxx)
	"E-4001": {CategorySystem, "Store Error", "Retry the operation; contact support if it persists.", true},
	"E-4002": {CategorySystem, "Filesystem Error", "Check disk space and permissions, then retry.", true},
	"E-4003": {CategorySystem, "Mapping/Template Error", "The generated shipment mapping is malformed; contact support.", false},

	// Auth (E-5xxx)
	"E-5001": {CategoryAuth, "Carrier Auth Failed", "Check carrier client id and secret in configuration.", false},
	"E-5002": {CategoryAuth, "Carrier Token Expired", "Re-authenticate with the carrier.", true},
}

// NewTaxonomyError builds a TaxonomyError for code, substituting message for
// the registry's generic title when message is non-empty.
func NewTaxonomyError(code, message string) *TaxonomyError {
	def, ok := errorDefs[code]
	if !ok {
		def = errorDefs["E-4001"]
		code = "E-4001"
	}
	msg := message
	if msg == "" {
		msg = def.title
	}
	return &TaxonomyError{
		Code:        code,
		Category:    def.category,
		Message:     msg,
		Remediation: def.remediation,
		Retryable:   def.retryable,
	}
}
