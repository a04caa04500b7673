package mail

import "strings"

// Persona is the consultant identity used in outreach copy and signatures.
type Persona struct {
	Name    string
	Title   string
	Email   string
	Website string
}

// Signature renders the fixed sign-off block appended to outbound emails.
func (p Persona) Signature() string {
	var b strings.Builder
	b.WriteString("-- \n")
	b.WriteString(p.Name + "\n")
	b.WriteString(p.Title + "\n")
	b.WriteString("Email: " + p.Email + "\n")
	b.WriteString("Website: " + p.Website)
	return b.String()
}
