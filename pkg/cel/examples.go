package cel

// ComputedFieldExamples provides example CEL expressions for computed
// transformation fields, evaluated with the original payload and the
// document built so far.
var ComputedFieldExamples = map[string]string{
	"uppercase":      `payload.name.upperAscii()`,
	"lowercase":      `payload.name.lowerAscii()`,
	"concatenate":    `payload.firstName + " " + payload.lastName`,
	"math_operation": `payload.price * (1.0 + payload.taxRate / 100.0)`,
	"conditional":    `payload.status == "active" ? "enabled" : "disabled"`,
	"substring":      `payload.email[0:payload.email.indexOf("@")]`,
	"default_value":  `has(payload.name) ? payload.name : "Unknown"`,
	"format_number":  `string(payload.amount) + " USD"`,
	"from_document":  `doc.customer_id + "-" + string(payload.id)`,
}
