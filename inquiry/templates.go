package inquiry

import (
	"fmt"
	"regexp"

	"github.com/voyasim/simflow/core"
)

// Template is a canned reply body. Placeholders use {{name}} syntax and
// are substituted from the caller's variables at render time.
type Template struct {
	ID   string
	Name string
	Body string
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Templates is the reply template registry.
type Templates struct {
	byID map[string]Template
}

// NewTemplates builds a registry from the given templates. Later
// duplicates win.
func NewTemplates(templates ...Template) *Templates {
	byID := make(map[string]Template, len(templates))
	for _, t := range templates {
		byID[t.ID] = t
	}
	return &Templates{byID: byID}
}

// DefaultTemplates returns the built-in reply set.
func DefaultTemplates() *Templates {
	return NewTemplates(
		Template{
			ID:   "esim-resend",
			Name: "eSIM re-delivery",
			Body: "Hello {{customer_name}},\n\nWe have re-sent your eSIM for order {{order_number}} to {{email}}. Please check your spam folder if it does not arrive within a few minutes.",
		},
		Template{
			ID:   "activation-help",
			Name: "Activation instructions",
			Body: "Hello {{customer_name}},\n\nTo activate your eSIM, open Settings > Cellular > Add eSIM and scan the QR code we emailed you. Activation code: {{activation_code}}.",
		},
		Template{
			ID:   "refund-processing",
			Name: "Refund acknowledgement",
			Body: "Hello {{customer_name}},\n\nYour refund request for order {{order_number}} is being processed. Refunds typically settle within 3-5 business days.",
		},
	)
}

// Get returns a template by id.
func (t *Templates) Get(id string) (Template, error) {
	tpl, ok := t.byID[id]
	if !ok {
		return Template{}, fmt.Errorf("template %s: %w", id, core.ErrTemplateNotFound)
	}
	return tpl, nil
}

// Render substitutes {{name}} placeholders from vars. Placeholders with
// no matching variable are left as-is so the gap is visible to the agent.
func (t *Templates) Render(id string, vars map[string]string) (string, error) {
	tpl, err := t.Get(id)
	if err != nil {
		return "", err
	}
	body := placeholderRe.ReplaceAllStringFunc(tpl.Body, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
	return body, nil
}
