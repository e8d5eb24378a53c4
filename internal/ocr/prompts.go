package ocr

const rawTextPrompt = "You are an OCR system. Extract ALL text visible in this document image. " +
	"Maintain the original formatting and structure as much as possible. " +
	"Include headers, body text, tables, footnotes, and any other text elements. " +
	"Do not add any commentary or explanation. Output ONLY the extracted text."

const invoicePrompt = `You are a document data extraction system. Analyze this invoice image and extract the following fields into a JSON object. If a field is not found, use null. Output ONLY valid JSON, no markdown fences or explanation.

Fields to extract:
{
  "invoice_number": "string",
  "invoice_date": "string (YYYY-MM-DD if possible)",
  "due_date": "string or null",
  "vendor_name": "string",
  "vendor_address": "string or null",
  "vendor_gstin": "string or null",
  "customer_name": "string",
  "customer_address": "string or null",
  "customer_gstin": "string or null",
  "subtotal": "number or null",
  "tax_amount": "number or null",
  "total_amount": "number",
  "currency": "string (e.g. INR, USD)",
  "payment_terms": "string or null",
  "line_items": [
    {
      "description": "string",
      "quantity": "number",
      "unit_price": "number",
      "amount": "number"
    }
  ]
}`

const contractPrompt = `You are a document data extraction system. Analyze this contract/agreement image and extract the following fields into a JSON object. If a field is not found, use null. Output ONLY valid JSON, no markdown fences or explanation.

Fields to extract:
{
  "contract_title": "string",
  "contract_number": "string or null",
  "effective_date": "string (YYYY-MM-DD if possible)",
  "expiration_date": "string or null",
  "party_1_name": "string",
  "party_1_role": "string (e.g. Client, Employer)",
  "party_2_name": "string",
  "party_2_role": "string (e.g. Vendor, Contractor)",
  "contract_value": "number or null",
  "currency": "string or null",
  "payment_terms": "string or null",
  "governing_law": "string or null",
  "termination_clause_summary": "string or null",
  "key_obligations": ["string"],
  "signatures_present": "boolean"
}`

const cracPrompt = `You are a document data extraction system. Analyze this CRAC (Credit Risk Assessment/Compliance) document image and extract the following fields into a JSON object. If a field is not found, use null. Output ONLY valid JSON, no markdown fences or explanation.

Fields to extract:
{
  "document_title": "string",
  "document_number": "string or null",
  "date_issued": "string (YYYY-MM-DD if possible)",
  "entity_name": "string",
  "entity_type": "string (e.g. Individual, Company)",
  "entity_id": "string or null",
  "risk_rating": "string or null",
  "credit_score": "string or null",
  "credit_limit": "number or null",
  "outstanding_amount": "number or null",
  "compliance_status": "string or null",
  "review_date": "string or null",
  "reviewer_name": "string or null",
  "key_findings": ["string"],
  "recommendations": ["string"],
  "approval_status": "string or null"
}`

// structuredPrompt returns the extraction prompt for a document type,
// defaulting to the invoice schema for unknown types.
func structuredPrompt(docType string) string {
	switch docType {
	case "contract":
		return contractPrompt
	case "crac":
		return cracPrompt
	default:
		return invoicePrompt
	}
}
