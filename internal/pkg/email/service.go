package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
)

var ErrNotConfigured = errors.New("email sender is not configured")

const (
	TemplateAdminNewJob  = "admin_new_job"
	TemplateJobCompleted = "job_completed"
)

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg *EmailMessage) error
}

// Service renders templates inside the base layout and hands them to a Sender.
type Service struct {
	sender       Sender
	templates    map[string]*template.Template
	baseTemplate *template.Template
}

// NewService parses every template up front; a broken template is a
// programming error and fails construction.
func NewService(sender Sender) (*Service, error) {
	base, err := template.New("base").Parse(BaseTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse base template: %w", err)
	}

	s := &Service{
		sender:       sender,
		templates:    make(map[string]*template.Template),
		baseTemplate: base,
	}

	for name, content := range map[string]string{
		TemplateAdminNewJob:  AdminNewJobTemplate,
		TemplateJobCompleted: JobCompletedTemplate,
	} {
		tmpl, err := template.New(name).Parse(content)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		s.templates[name] = tmpl
	}

	return s, nil
}

// Render returns the full HTML document for a template.
func (s *Service) Render(templateName string, data any) (string, error) {
	tmpl, ok := s.templates[templateName]
	if !ok {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	var content bytes.Buffer
	if err := tmpl.Execute(&content, data); err != nil {
		return "", err
	}

	var html bytes.Buffer
	if err := s.baseTemplate.Execute(&html, map[string]any{
		"Content": template.HTML(content.String()),
	}); err != nil {
		return "", err
	}
	return html.String(), nil
}

// SendSync renders and sends an email, blocking until the provider answers.
func (s *Service) SendSync(ctx context.Context, to, toName, templateName, subject string, data any) error {
	html, err := s.Render(templateName, data)
	if err != nil {
		return err
	}

	return s.sender.Send(ctx, &EmailMessage{
		To:          to,
		ToName:      toName,
		Subject:     subject,
		HTMLContent: html,
	})
}
