package email

import (
	"fmt"
	"html/template"
	"strings"
)

const (
	TemplateConfirmation       = "confirmation"
	TemplatePaymentApproved    = "payment_approved"
	TemplatePaymentFailed      = "payment_failed"
	TemplateExpirationReminder = "expiration_reminder"
)

const layout = `<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #1f2933;">
{{template "content" .}}
<p style="color: #7b8794; font-size: 12px;">FleetMaster Hub</p>
</body></html>`

var contents = map[string]string{
	TemplateConfirmation: `{{define "content"}}
<h2>Confirma tu cuenta</h2>
<p>Hola {{.Name}}, gracias por registrarte en FleetMaster Hub.</p>
<p><a href="{{.Link}}">Confirmar mi cuenta</a></p>
<p>Al confirmar tu cuenta recibirás una prueba gratuita de 5 días.</p>
{{end}}`,

	TemplatePaymentApproved: `{{define "content"}}
<h2>Pago aprobado</h2>
<ul>
<li>Referencia: {{.Reference}}</li>
<li>Cliente: {{.Email}}</li>
<li>Plan: {{.Plan}} ({{.Duration}})</li>
<li>Monto: {{.Amount}} {{.Currency}}</li>
<li>Transacción Wompi: {{.GatewayID}}</li>
<li>Medio de pago: {{.PaymentMethod}}</li>
</ul>
{{end}}`,

	TemplatePaymentFailed: `{{define "content"}}
<h2>No pudimos procesar tu pago</h2>
<p>Hola {{.Name}}, el pago con referencia <strong>{{.Reference}}</strong> para el plan {{.Plan}}
terminó con estado {{.Status}}.</p>
<p>Puedes intentarlo de nuevo desde <a href="{{.Link}}">tu cuenta</a>.</p>
{{end}}`,

	TemplateExpirationReminder: `{{define "content"}}
<h2>Tu suscripción está por vencer</h2>
<p>Hola {{.Name}}, tu plan {{.Plan}} vence el {{.DueDate}} ({{.DaysRemaining}} días).</p>
<p><a href="{{.Link}}">Renovar ahora</a></p>
{{end}}`,
}

var subjects = map[string]string{
	TemplateConfirmation:       "Confirma tu cuenta de FleetMaster Hub",
	TemplatePaymentApproved:    "Pago aprobado %s",
	TemplatePaymentFailed:      "Tu pago %s no fue aprobado",
	TemplateExpirationReminder: "Tu suscripción vence pronto",
}

// TemplateData holds every field used by the templates; each template reads a subset.
type TemplateData struct {
	Name          string
	Email         string
	Link          string
	Reference     string
	Plan          string
	Duration      string
	Amount        int64
	Currency      string
	GatewayID     string
	PaymentMethod string
	Status        string
	DueDate       string
	DaysRemaining int
}

type Renderer struct {
	templates map[string]*template.Template
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[string]*template.Template, len(contents))}
	for name, body := range contents {
		tpl, err := template.New(name).Parse(layout)
		if err != nil {
			return nil, fmt.Errorf("failed to parse layout: %w", err)
		}
		if _, err := tpl.Parse(body); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tpl
	}
	return r, nil
}

func (r *Renderer) Render(name string, data TemplateData) (string, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var buf strings.Builder
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

// Subject formats the subject line of the named template; arg fills the %s verb when present.
func Subject(name, arg string) string {
	s := subjects[name]
	if strings.Contains(s, "%s") {
		return fmt.Sprintf(s, arg)
	}
	return s
}
