package rules

import "github.com/hjscm/alertengine/alert"

// Template returns a starter rule definition for a category, prefilled
// with a representative condition and a notification action. Templates
// are created as drafts; callers adjust thresholds before enabling.
func Template(category string) (*alert.Rule, bool) {
	tpl, ok := templates[category]
	if !ok {
		return nil, false
	}
	out := tpl
	out.Conditions = append([]alert.Condition(nil), tpl.Conditions...)
	out.Actions = append([]alert.Action(nil), tpl.Actions...)
	return &out, true
}

// TemplateCategories lists the categories with a template, in display order.
func TemplateCategories() []string {
	return []string{"supply", "inventory", "demand", "cost"}
}

var templates = map[string]alert.Rule{
	"supply": {
		Name:         "Supplier on-time delivery below target",
		Description:  "Fires when a supplier's on-time delivery rate drops under the contractual target.",
		Category:     "supply",
		PriorityBase: alert.PriorityP1,
		Status:       alert.StatusDraft,
		Conditions: []alert.Condition{
			{Field: "supplier.otd", Operator: alert.OpLT, Value: alert.Lit(0.90)},
		},
		Actions: []alert.Action{
			{Type: alert.ActionNotification, Template: "Supplier {{supplier.name}} OTD {{supplier.otd}} is below target"},
		},
		CooldownSeconds: 3600,
	},
	"inventory": {
		Name:         "Stock below safety level",
		Description:  "Fires when on-hand stock falls under the item's safety stock.",
		Category:     "inventory",
		PriorityBase: alert.PriorityP1,
		Status:       alert.StatusDraft,
		Conditions: []alert.Condition{
			{Field: "item.onHand", Operator: alert.OpLT, Value: alert.Ref("item.safetyStock")},
		},
		Actions: []alert.Action{
			{Type: alert.ActionNotification, Template: "Item {{item.sku}} on hand {{item.onHand}} is below safety stock {{item.safetyStock}}"},
		},
		CooldownSeconds: 1800,
	},
	"demand": {
		Name:         "Forecast deviation exceeds tolerance",
		Description:  "Fires when actual demand deviates from forecast beyond tolerance.",
		Category:     "demand",
		PriorityBase: alert.PriorityP2,
		Status:       alert.StatusDraft,
		Conditions: []alert.Condition{
			{Field: "order.forecastDeviation", Operator: alert.OpGT, Value: alert.Lit(0.25)},
		},
		Actions: []alert.Action{
			{Type: alert.ActionNotification, Template: "Order {{order.id}} deviates {{order.forecastDeviation}} from forecast"},
		},
		CooldownSeconds: 7200,
	},
	"cost": {
		Name:         "Invoice amount over approval limit",
		Description:  "Fires when an invoice exceeds the auto-approval limit.",
		Category:     "cost",
		PriorityBase: alert.PriorityP1,
		Status:       alert.StatusDraft,
		Conditions: []alert.Condition{
			{Field: "invoice.amount", Operator: alert.OpGT, Value: alert.Lit(50000.0)},
		},
		Actions: []alert.Action{
			{Type: alert.ActionNotification, Template: "Invoice {{invoice.id}} amount {{invoice.amount}} exceeds approval limit"},
			{Type: alert.ActionEmail, Template: "Invoice {{invoice.id}} for {{invoice.amount}} requires manual approval"},
		},
		CooldownSeconds: 0,
	},
}
