package models

import "strings"

// EmailTemplate is a subject/body pair with {{.key}} placeholders, keyed by
// template id and locale.
type EmailTemplate struct {
	Base       `bson:",inline"`
	TemplateID string `bson:"template_id" json:"template_id"`
	Locale     string `bson:"locale" json:"locale"`
	Subject    string `bson:"subject" json:"subject"`
	Body       string `bson:"body" json:"body"`
}

// Render replaces each {{.key}} placeholder in subject and body with data[key].
// Unknown placeholders are left as they are.
func (t *EmailTemplate) Render(data map[string]string) (subject, body string) {
	subject, body = t.Subject, t.Body
	for key, val := range data {
		placeholder := "{{." + key + "}}"
		subject = strings.ReplaceAll(subject, placeholder, val)
		body = strings.ReplaceAll(body, placeholder, val)
	}
	return subject, body
}
