package ocr

import (
	"encoding/json"
	"strings"

	"github.com/davekm/docvision/internal/models"
)

// Structured fields are typed per document type so extraction drift is
// visible at the schema boundary; keys the model invents beyond the schema
// land in Additional instead of being dropped.

type LineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity"`
	UnitPrice   *float64 `json:"unit_price"`
	Amount      *float64 `json:"amount"`
}

type InvoiceFields struct {
	InvoiceNumber   string     `json:"invoice_number"`
	InvoiceDate     string     `json:"invoice_date"`
	DueDate         *string    `json:"due_date"`
	VendorName      string     `json:"vendor_name"`
	VendorAddress   *string    `json:"vendor_address"`
	VendorGSTIN     *string    `json:"vendor_gstin"`
	CustomerName    string     `json:"customer_name"`
	CustomerAddress *string    `json:"customer_address"`
	CustomerGSTIN   *string    `json:"customer_gstin"`
	Subtotal        *float64   `json:"subtotal"`
	TaxAmount       *float64   `json:"tax_amount"`
	TotalAmount     *float64   `json:"total_amount"`
	Currency        string     `json:"currency"`
	PaymentTerms    *string    `json:"payment_terms"`
	LineItems       []LineItem `json:"line_items"`
}

type ContractFields struct {
	ContractTitle            string   `json:"contract_title"`
	ContractNumber           *string  `json:"contract_number"`
	EffectiveDate            string   `json:"effective_date"`
	ExpirationDate           *string  `json:"expiration_date"`
	Party1Name               string   `json:"party_1_name"`
	Party1Role               string   `json:"party_1_role"`
	Party2Name               string   `json:"party_2_name"`
	Party2Role               string   `json:"party_2_role"`
	ContractValue            *float64 `json:"contract_value"`
	Currency                 *string  `json:"currency"`
	PaymentTerms             *string  `json:"payment_terms"`
	GoverningLaw             *string  `json:"governing_law"`
	TerminationClauseSummary *string  `json:"termination_clause_summary"`
	KeyObligations           []string `json:"key_obligations"`
	SignaturesPresent        *bool    `json:"signatures_present"`
}

type CracFields struct {
	DocumentTitle     string   `json:"document_title"`
	DocumentNumber    *string  `json:"document_number"`
	DateIssued        string   `json:"date_issued"`
	EntityName        string   `json:"entity_name"`
	EntityType        string   `json:"entity_type"`
	EntityID          *string  `json:"entity_id"`
	RiskRating        *string  `json:"risk_rating"`
	CreditScore       *string  `json:"credit_score"`
	CreditLimit       *float64 `json:"credit_limit"`
	OutstandingAmount *float64 `json:"outstanding_amount"`
	ComplianceStatus  *string  `json:"compliance_status"`
	ReviewDate        *string  `json:"review_date"`
	ReviewerName      *string  `json:"reviewer_name"`
	KeyFindings       []string `json:"key_findings"`
	Recommendations   []string `json:"recommendations"`
	ApprovalStatus    *string  `json:"approval_status"`
}

// StructuredFields is the tagged union over document-type schemas. Exactly
// one of Invoice/Contract/Crac is set; Additional carries any keys the model
// returned beyond the schema.
type StructuredFields struct {
	Invoice    *InvoiceFields         `json:"invoice,omitempty"`
	Contract   *ContractFields        `json:"contract,omitempty"`
	Crac       *CracFields            `json:"crac,omitempty"`
	Additional map[string]interface{} `json:"additional,omitempty"`
}

var schemaKeys = map[string][]string{
	"invoice": {
		"invoice_number", "invoice_date", "due_date", "vendor_name",
		"vendor_address", "vendor_gstin", "customer_name", "customer_address",
		"customer_gstin", "subtotal", "tax_amount", "total_amount",
		"currency", "payment_terms", "line_items",
	},
	"contract": {
		"contract_title", "contract_number", "effective_date", "expiration_date",
		"party_1_name", "party_1_role", "party_2_name", "party_2_role",
		"contract_value", "currency", "payment_terms", "governing_law",
		"termination_clause_summary", "key_obligations", "signatures_present",
	},
	"crac": {
		"document_title", "document_number", "date_issued", "entity_name",
		"entity_type", "entity_id", "risk_rating", "credit_score",
		"credit_limit", "outstanding_amount", "compliance_status", "review_date",
		"reviewer_name", "key_findings", "recommendations", "approval_status",
	},
}

// cleanJSONResponse strips markdown fences and surrounding prose from a
// model response, keeping just the JSON object.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || start > end {
		return content
	}
	return strings.TrimSpace(content[start : end+1])
}

// parseStructuredJSON decodes a model response into a map. Responses that
// cannot be parsed are preserved under marker keys so the failure stays
// inspectable in the stored result.
func parseStructuredJSON(response string) models.JSONMap {
	cleaned := cleanJSONResponse(response)

	var out models.JSONMap
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return models.JSONMap{
			"_raw_response": response,
			"_parse_error":  "could not extract valid JSON from response",
		}
	}
	return out
}

// mergeStructured folds one page's fields into the accumulated set: first
// occurrence wins for scalars, lists are concatenated, marker keys skipped.
func mergeStructured(dst, src models.JSONMap) {
	for key, value := range src {
		if strings.HasPrefix(key, "_") {
			continue
		}
		existing, ok := dst[key]
		if !ok {
			dst[key] = value
			continue
		}
		if dstList, ok := existing.([]interface{}); ok {
			if srcList, ok := value.([]interface{}); ok {
				dst[key] = append(dstList, srcList...)
			}
		}
	}
}

// TypedFields decodes the accumulated map into the document type's schema,
// collecting off-schema keys into Additional.
func TypedFields(docType string, data models.JSONMap) *StructuredFields {
	if len(data) == 0 {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return &StructuredFields{Additional: data}
	}

	fields := &StructuredFields{}
	switch docType {
	case "contract":
		var f ContractFields
		if json.Unmarshal(raw, &f) == nil {
			fields.Contract = &f
		}
	case "crac":
		var f CracFields
		if json.Unmarshal(raw, &f) == nil {
			fields.Crac = &f
		}
	default:
		docType = "invoice"
		var f InvoiceFields
		if json.Unmarshal(raw, &f) == nil {
			fields.Invoice = &f
		}
	}

	known := make(map[string]bool, len(schemaKeys[docType]))
	for _, k := range schemaKeys[docType] {
		known[k] = true
	}
	for key, value := range data {
		if known[key] || strings.HasPrefix(key, "_") {
			continue
		}
		if fields.Additional == nil {
			fields.Additional = make(map[string]interface{})
		}
		fields.Additional[key] = value
	}

	return fields
}
