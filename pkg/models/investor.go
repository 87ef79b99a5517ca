package models

// CandidateRecord is one duplicate investor's full attribute set as returned by
// the CRM backend. Records are immutable once fetched; index 0 in a group is the
// oldest record and the canonical identity by default.
type CandidateRecord struct {
	ID        string         `json:"id"`
	CreatedAt string         `json:"created_at"`
	FundID    string         `json:"fund_id,omitempty"`
	Source    string         `json:"source,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// FieldValue returns the raw value for a field key, or nil when absent.
func (r *CandidateRecord) FieldValue(key string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[key]
}

// DuplicateGroup is one server-detected cluster of candidate records believed to
// represent the same real-world investor. Detection is entirely server-side;
// clover consumes the grouping opaquely.
type DuplicateGroup struct {
	InvestorName string            `json:"investor_name"`
	Count        int               `json:"count"`
	Investors    []GroupedInvestor `json:"investors"`
}

// GroupedInvestor is the summary row the backend returns per group member,
// ordered oldest first.
type GroupedInvestor struct {
	ID           string `json:"id"`
	InvestorName string `json:"investor_name"`
	InvestorType string `json:"investor_type"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
	FundID       string `json:"fund_id"`
	FundName     string `json:"fund_name"`
	Source       string `json:"source"`
	CreatedAt    string `json:"created_at"`
}

// DuplicateReport is the backend's duplicate listing response.
type DuplicateReport struct {
	TotalDuplicateGroups  int              `json:"total_duplicate_groups"`
	TotalDuplicateRecords int              `json:"total_duplicate_records"`
	Duplicates            []DuplicateGroup `json:"duplicates"`
}
