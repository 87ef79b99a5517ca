// Package fields implements field-level reconciliation of duplicate investor
// records: an initial per-field resolution across candidates plus sticky manual
// overrides.
package fields

// Kind is the value kind of a mergeable field.
type Kind string

const (
	KindText     Kind = "text"
	KindNumber   Kind = "number"
	KindLongText Kind = "long_text"
)

// Spec is a static descriptor for one mergeable investor field. The spec set
// is fixed at compile time, not derived from data.
type Spec struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Kind     Kind   `json:"kind"`
	Required bool   `json:"required"`
}

// IdentityFieldKey is the field that must be non-empty before the workflow can
// advance past reconciliation.
const IdentityFieldKey = "investor_name"

// InvestorSpecs is the catalog of investor fields eligible for reconciliation,
// mirroring the CRM's investor identity, contact, and investment-context
// attributes.
var InvestorSpecs = []Spec{
	{Key: "investor_name", Label: "Investor Name", Kind: KindText, Required: true},
	{Key: "investor_type", Label: "Investor Type", Kind: KindText},
	{Key: "firm_name", Label: "Firm Name", Kind: KindText},
	{Key: "job_title", Label: "Job Title", Kind: KindText},
	{Key: "sector", Label: "Sector", Kind: KindText},
	{Key: "country", Label: "Country", Kind: KindText},
	{Key: "city", Label: "City", Kind: KindText},
	{Key: "nationality", Label: "Nationality", Kind: KindText},
	{Key: "website", Label: "Website", Kind: KindText},
	{Key: "linkedin_url", Label: "LinkedIn", Kind: KindText},
	{Key: "wealth", Label: "Wealth", Kind: KindText},
	{Key: "expected_ticket_amount", Label: "Expected Ticket", Kind: KindNumber},
	{Key: "typical_ticket_size", Label: "Typical Ticket Size", Kind: KindNumber},
	{Key: "investment_size", Label: "Investment Size", Kind: KindNumber},
	{Key: "contact_name", Label: "Contact Name", Kind: KindText},
	{Key: "contact_title", Label: "Contact Title", Kind: KindText},
	{Key: "contact_phone", Label: "Phone", Kind: KindText},
	{Key: "contact_email", Label: "Email", Kind: KindText},
	{Key: "contact_whatsapp", Label: "WhatsApp", Kind: KindText},
	{Key: "preferred_intro_path", Label: "Preferred Intro Path", Kind: KindText},
	{Key: "description", Label: "Description", Kind: KindLongText},
}
