package scanning

import "fmt"

// PageSeparator joins the text of consecutive pages
const PageSeparator = "\n\n---\n\n"

// extractionPrompt is sent with every page image to a vision model
const extractionPrompt = `You are reading an invoice or receipt. Read all text in the image and list every field you can find (issuer, tax identifiers, document number, dates, customer, line items with quantities and prices, subtotals, taxes, discounts, totals, payment method and any other data).

Answer with one bullet point per field, in the form "- Field: value". Do not add an introduction or closing remarks.`

// analysisPrompt wraps freshly extracted text for the first analysis
const analysisPrompt = `Below is the text extracted from an invoice or receipt. Produce a structured and exhaustive summary of it, field by field, using one bullet point per field and grouping line items under their own heading. Include every value present in the text. Do not add an introduction, conversational remarks or a closing.

Extracted text:
%s`

// correctionPrompt asks for a full regeneration that includes the user's correction
const correctionPrompt = `Based on the previous analysis and this correction: '%s', produce a new complete and updated analysis of the invoice. Keep the same structured bullet-point format, incorporate the correction, and state explicitly which field was corrected.`

// visionSystemPrompt primes local vision models that lack built-in instructions
const visionSystemPrompt = "You are an expert at reading and extracting information from receipts and invoices. You must carefully read all text in images and extract accurate information."

func buildAnalysisPrompt(text string) string {
	return fmt.Sprintf(analysisPrompt, text)
}

func buildCorrectionPrompt(correction string) string {
	return fmt.Sprintf(correctionPrompt, correction)
}
