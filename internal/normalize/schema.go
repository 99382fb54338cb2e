package normalize

import "github.com/dvloznov/finsync/internal/domain"

// AliasPair links a canonical field name to one historical alias.
type AliasPair struct {
	Canonical string
	Alias     string
}

// Enum maps accepted spellings (already lowercased) to a canonical value.
type Enum struct {
	Values  map[string]string
	Default string
}

// Schema is the canonical shape of one entity kind.
type Schema struct {
	Required []string
	Aliases  []AliasPair
	// Fallbacks fill a missing field from another field of the same record.
	Fallbacks  map[string]string
	Defaults   map[string]any
	Enums      map[string]Enum
	DateFields []string
}

var expenseType = Enum{
	Values: map[string]string{
		"fixed":    "fixed",
		"fixa":     "fixed",
		"fixo":     "fixed",
		"variable": "variable",
		"variavel": "variable",
		"variável": "variable",
	},
	Default: "variable",
}

var returnRatePeriod = Enum{
	Values: map[string]string{
		"monthly":  "monthly",
		"month":    "monthly",
		"mensal":   "monthly",
		"annual":   "annual",
		"annually": "annual",
		"yearly":   "annual",
		"anual":    "annual",
	},
	Default: "annual",
}

// DefaultSchemas is the registry of every known kind. New kinds and aliases
// are added here, not in control flow.
var DefaultSchemas = map[domain.Kind]Schema{
	domain.KindExpense: {
		Required: []string{"description", "amount"},
		Aliases: []AliasPair{
			{Canonical: "amount", Alias: "value"},
		},
		Defaults: map[string]any{
			"category": "other",
			"type":     "variable",
		},
		Enums: map[string]Enum{
			"type": expenseType,
		},
		DateFields: []string{"date", "due_date"},
	},
	domain.KindInvestment: {
		Required: []string{"description", "initial_amount", "current_amount", "category"},
		Aliases: []AliasPair{
			{Canonical: "return_rate", Alias: "rate"},
			{Canonical: "return_rate_type", Alias: "rate_type"},
		},
		Fallbacks: map[string]string{
			"current_amount": "initial_amount",
		},
		Defaults: map[string]any{
			"return_rate_type": "annual",
		},
		Enums: map[string]Enum{
			"return_rate_type": returnRatePeriod,
		},
		DateFields: []string{"start_date", "maturity_date"},
	},
	domain.KindDebt: {
		Required: []string{"description", "current_amount", "type"},
		Aliases: []AliasPair{
			{Canonical: "current_amount", Alias: "remaining_amount"},
			{Canonical: "initial_amount", Alias: "total_amount"},
		},
		Defaults: map[string]any{
			"installments_paid": 0,
		},
		DateFields: []string{"start_date", "due_date", "end_date"},
	},
	domain.KindGoal: {
		Required: []string{"name", "target_amount"},
		Aliases: []AliasPair{
			{Canonical: "name", Alias: "title"},
			{Canonical: "target_amount", Alias: "target_goal"},
		},
		Defaults: map[string]any{
			"linked_investments": []any{},
		},
		DateFields: []string{"deadline", "target_date"},
	},
	domain.KindInsurance: {
		Required: []string{"type", "description", "premium"},
		Aliases: []AliasPair{
			{Canonical: "premium", Alias: "value"},
			{Canonical: "coverage_amount", Alias: "coverage"},
		},
		DateFields: []string{"start_date", "end_date", "renewal_date"},
	},
}
