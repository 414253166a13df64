package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greendrake/referral/internal/models"
)

// Template ids of the notification emails.
const (
	TemplateGrantAccessRequested  = "grant_access_requested"
	TemplateGrantAccessApproved   = "grant_access_approved"
	TemplateGrantAccessPriced     = "grant_access_priced"
	TemplateGrantAccessRejected   = "grant_access_rejected"
	TemplatePaymentSucceededAgent = "payment_succeeded_agent"
	TemplatePaymentSucceededAdmin = "payment_succeeded_admin"
	TemplatePaymentFailed         = "payment_failed"
	TemplatePaymentFailureCapped  = "payment_failure_capped"
	TemplatePreMarketExpired      = "pre_market_request_expired"
	TemplatePreMarketRetired      = "pre_market_request_retired"
	DefaultTemplateLocale         = "en-US"
	emailTemplatesCollection      = "email_templates"
)

// Default email templates used as fallback when not found in database
var defaultEmailTemplates = map[string]models.EmailTemplate{
	TemplateGrantAccessRequested: {
		TemplateID: TemplateGrantAccessRequested,
		Subject:    "[{{.app_name}}] New grant-access request",
		Body:       "Agent {{.agent_name}} asked for access to pre-market request {{.pre_market_request_id}}.\nReview it at {{.base_url}}/admin/grant-access/{{.grant_access_request_id}}",
	},
	TemplateGrantAccessApproved: {
		TemplateID: TemplateGrantAccessApproved,
		Subject:    "[{{.app_name}}] Access granted",
		Body:       "Your request for pre-market request {{.pre_market_request_id}} was approved free of charge. Renter contact details are now visible at {{.base_url}}/agent/pre-market/{{.pre_market_request_id}}",
	},
	TemplateGrantAccessPriced: {
		TemplateID: TemplateGrantAccessPriced,
		Subject:    "[{{.app_name}}] Access approved, payment required",
		Body:       "Your request for pre-market request {{.pre_market_request_id}} was approved for {{.amount}} {{.currency}}.\nComplete payment at {{.base_url}}/agent/grant-access/{{.grant_access_request_id}}",
	},
	TemplateGrantAccessRejected: {
		TemplateID: TemplateGrantAccessRejected,
		Subject:    "[{{.app_name}}] Access request declined",
		Body:       "Your request for pre-market request {{.pre_market_request_id}} was declined.\n{{.notes}}",
	},
	TemplatePaymentSucceededAgent: {
		TemplateID: TemplatePaymentSucceededAgent,
		Subject:    "[{{.app_name}}] Payment received",
		Body:       "We received your payment of {{.amount}} {{.currency}}. Renter contact details for pre-market request {{.pre_market_request_id}} are now visible.",
	},
	TemplatePaymentSucceededAdmin: {
		TemplateID: TemplatePaymentSucceededAdmin,
		Subject:    "[{{.app_name}}] Grant-access payment succeeded",
		Body:       "Grant-access request {{.grant_access_request_id}} was paid: {{.amount}} {{.currency}}.",
	},
	TemplatePaymentFailed: {
		TemplateID: TemplatePaymentFailed,
		Subject:    "[{{.app_name}}] Payment failed",
		Body:       "Your payment of {{.amount}} {{.currency}} for pre-market request {{.pre_market_request_id}} failed (attempt {{.failure_count}}). You can try again at {{.base_url}}/agent/grant-access/{{.grant_access_request_id}}",
	},
	TemplatePaymentFailureCapped: {
		TemplateID: TemplatePaymentFailureCapped,
		Subject:    "[{{.app_name}}] Payment attempts exhausted",
		Body:       "Payment for grant-access request {{.grant_access_request_id}} failed {{.failure_count}} times. An admin must approve the request again before another attempt.",
	},
	TemplatePreMarketExpired: {
		TemplateID: TemplatePreMarketExpired,
		Subject:    "[{{.app_name}}] Your request is no longer visible",
		Body:       "Your pre-market request {{.pre_market_request_id}} has expired and is no longer shown to agents. Update your moving dates at {{.base_url}}/pre-market/{{.pre_market_request_id}} to reactivate it.",
	},
	TemplatePreMarketRetired: {
		TemplateID: TemplatePreMarketRetired,
		Subject:    "[{{.app_name}}] Your request was removed",
		Body:       "Your pre-market request {{.pre_market_request_id}} expired long ago and has been removed.",
	},
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
	SaveTemplate(ctx context.Context, template *models.EmailTemplate) error
	DeleteTemplate(ctx context.Context, templateID, locale string) error
}

// EmailTemplateService handles operations related to email templates
type EmailTemplateService struct {
	db *mongo.Database
}

// NewEmailTemplateService creates a new instance of EmailTemplateService
func NewEmailTemplateService(db *mongo.Database) *EmailTemplateService {
	return &EmailTemplateService{
		db: db,
	}
}

// DefaultEmailTemplate returns the built-in template for id.
func DefaultEmailTemplate(templateID string) (*models.EmailTemplate, bool) {
	tmpl, ok := defaultEmailTemplates[templateID]
	if !ok {
		return nil, false
	}
	tmpl.Locale = DefaultTemplateLocale
	return &tmpl, true
}

// GetTemplate retrieves an email template by ID and locale. A stored template
// wins over the built-in default.
func (s *EmailTemplateService) GetTemplate(ctx context.Context, templateID string, locale string) (*models.EmailTemplate, error) {
	if locale == "" {
		locale = DefaultTemplateLocale
	}
	filter := bson.M{
		"template_id": templateID,
		"locale":      locale,
	}

	var template models.EmailTemplate
	err := s.db.Collection(emailTemplatesCollection).FindOne(ctx, filter).Decode(&template)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if tmpl, ok := DefaultEmailTemplate(templateID); ok {
				return tmpl, nil
			}
			return nil, NewNotFoundError("template not found: %s (locale: %s)", templateID, locale)
		}
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}

	return &template, nil
}

// SaveTemplate saves an email template to the database
func (s *EmailTemplateService) SaveTemplate(ctx context.Context, template *models.EmailTemplate) error {
	if template.TemplateID == "" {
		return NewValidationError("template id is required")
	}
	if template.Locale == "" {
		template.Locale = DefaultTemplateLocale
	}
	template.GenIDIfEmpty()
	filter := bson.M{
		"template_id": template.TemplateID,
		"locale":      template.Locale,
	}
	update := bson.M{
		"$set": bson.M{
			"subject":    template.Subject,
			"body":       template.Body,
			"updated_at": time.Now().UTC(),
		},
		"$setOnInsert": bson.M{"_id": template.ID},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := s.db.Collection(emailTemplatesCollection).UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}
	return nil
}

// DeleteTemplate deletes an email template from the database
func (s *EmailTemplateService) DeleteTemplate(ctx context.Context, templateID string, locale string) error {
	filter := bson.M{
		"template_id": templateID,
		"locale":      locale,
	}

	if _, err := s.db.Collection(emailTemplatesCollection).DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("error deleting template: %w", err)
	}
	return nil
}
