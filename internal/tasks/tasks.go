package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"greendrake/referral/internal/config"
	"greendrake/referral/internal/email"
	"greendrake/referral/internal/events"
	"greendrake/referral/internal/metrics"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/services"
	"greendrake/referral/internal/utils"
)

// TaskType defines the type of a background task.
const (
	TypeEmailDelivery = "email:deliver"
	TypeEventDispatch = events.TypeEventDispatch
)

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	opts := rdb.Options()
	clientOpt := asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	return asynq.NewClient(clientOpt)
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg                  *config.Config
	emailSender          email.Sender
	emailTemplateService services.IEmailTemplateService
	userService          services.IUserService
	noticeService        services.INoticeService
	configService        services.IConfigService
	publisher            events.Publisher
	taskClient           events.Enqueuer
	metrics              *metrics.Metrics
}

// NewTaskProcessor creates a new TaskProcessor. publisher may be nil when no
// event stream is configured.
func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	emailTemplateService services.IEmailTemplateService,
	userService services.IUserService,
	noticeService services.INoticeService,
	configService services.IConfigService,
	publisher events.Publisher,
	taskClient events.Enqueuer,
	m *metrics.Metrics,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:                  cfg,
		emailSender:          emailSender,
		emailTemplateService: emailTemplateService,
		userService:          userService,
		noticeService:        noticeService,
		configService:        configService,
		publisher:            publisher,
		taskClient:           taskClient,
		metrics:              m,
	}
}

// SetupServer builds the asynq server and registers the task handlers. The
// caller starts it with Start(mux) and stops it with Shutdown.
func SetupServer(rdb *redis.Client, processor *TaskProcessor) (*asynq.Server, *asynq.ServeMux) {
	opts := rdb.Options()
	serverOpt := asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				if errors.Is(err, asynq.SkipRetry) || retried >= maxRetry {
					log.Printf("ERROR [asynq] task %s dropped after %d retries: %v (payload: %s)", task.Type(), retried, err, string(task.Payload()))
					return
				}
				log.Printf("WARN: [asynq] task %s failed (retry %d/%d): %v", task.Type(), retried, maxRetry, err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeEventDispatch, processor.HandleEventDispatchTask)
	mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
	fmt.Println("Registered background task handlers (event dispatch, email delivery).")

	return srv, mux
}

// --- Task Payloads ---

type EmailTaskPayload struct {
	To         string            `json:"to"`
	TemplateID string            `json:"template_id"`
	Locale     string            `json:"locale,omitempty"`
	Data       map[string]string `json:"data"`
}

// NewEmailDeliveryTask builds an email task. A non-empty taskID makes
// re-enqueueing the same delivery a no-op.
func NewEmailDeliveryTask(payload EmailTaskPayload, taskID string, maxRetry int, timeout time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email task payload: %w", err)
	}
	opts := []asynq.Option{asynq.MaxRetry(maxRetry), asynq.Timeout(timeout), asynq.Queue("default")}
	if taskID != "" {
		opts = append(opts, asynq.TaskID(taskID))
	}
	return asynq.NewTask(TypeEmailDelivery, body, opts...), nil
}

// --- Task Handlers ---

// recipient is one user an event is announced to, with the template used.
type recipient struct {
	userID     utils.SixID
	templateID string
}

// recipientsFor decides who hears about e. Admin notifications can be switched
// off with NOTIFY_ADMINS.
func (p *TaskProcessor) recipientsFor(ctx context.Context, e events.Event) ([]recipient, error) {
	var out []recipient
	agent := func(templateID string) {
		if e.AgentID != nil {
			out = append(out, recipient{userID: *e.AgentID, templateID: templateID})
		}
	}
	admins := func(templateID string) error {
		if !p.configService.GetBool(ctx, "NOTIFY_ADMINS", true) {
			return nil
		}
		users, err := p.userService.ListByRole(ctx, models.RoleAdmin)
		if err != nil {
			return fmt.Errorf("failed to list admins: %w", err)
		}
		for _, u := range users {
			out = append(out, recipient{userID: u.ID, templateID: templateID})
		}
		return nil
	}

	switch e.Type {
	case events.GrantAccessRequested:
		if err := admins(services.TemplateGrantAccessRequested); err != nil {
			return nil, err
		}
	case events.GrantAccessApproved:
		agent(services.TemplateGrantAccessApproved)
	case events.GrantAccessPriced:
		agent(services.TemplateGrantAccessPriced)
	case events.GrantAccessRejected:
		agent(services.TemplateGrantAccessRejected)
	case events.PaymentSucceeded:
		agent(services.TemplatePaymentSucceededAgent)
		if err := admins(services.TemplatePaymentSucceededAdmin); err != nil {
			return nil, err
		}
	case events.PaymentFailed:
		maxFailures := p.configService.GetInt(ctx, "MAX_PAYMENT_FAILURES", p.cfg.MaxPaymentFailures)
		if maxFailures > 0 && e.FailureCount >= maxFailures {
			agent(services.TemplatePaymentFailureCapped)
			if err := admins(services.TemplatePaymentFailureCapped); err != nil {
				return nil, err
			}
		} else {
			agent(services.TemplatePaymentFailed)
		}
	case events.PreMarketRequestExpired:
		out = append(out, recipient{userID: e.RenterID, templateID: services.TemplatePreMarketExpired})
	case events.PreMarketRequestRetired:
		out = append(out, recipient{userID: e.RenterID, templateID: services.TemplatePreMarketRetired})
	}
	return out, nil
}

// templateData is the placeholder set every notification template may use.
func (p *TaskProcessor) templateData(ctx context.Context, e events.Event) map[string]string {
	data := map[string]string{
		"app_name":              p.configService.GetString(ctx, "APP_NAME", p.cfg.AppName),
		"base_url":              p.cfg.AppBaseURL,
		"event_id":              e.ID,
		"pre_market_request_id": e.PreMarketRequestID.String(),
		"notes":                 e.Notes,
		"failure_count":         strconv.Itoa(e.FailureCount),
		"currency":              e.Currency,
	}
	if e.GrantAccessRequestID != nil {
		data["grant_access_request_id"] = e.GrantAccessRequestID.String()
	}
	if e.Amount != nil {
		data["amount"] = e.Amount.String()
	}
	if e.AgentID != nil {
		data["agent_id"] = e.AgentID.String()
		data["agent_name"] = e.AgentID.String()
		if agent, err := p.userService.FindByID(ctx, *e.AgentID); err == nil && agent.Name != "" {
			data["agent_name"] = agent.Name
		}
	}
	return data
}

// HandleEventDispatchTask delivers one domain event: an in-app notice and an
// email task per recipient, then the event stream. Every step is idempotent
// per event id, so a retry after a partial failure repeats nothing.
func (p *TaskProcessor) HandleEventDispatchTask(ctx context.Context, t *asynq.Task) error {
	var e events.Event
	if err := json.Unmarshal(t.Payload(), &e); err != nil {
		p.metrics.Dispatched("unknown", "poison")
		return fmt.Errorf("failed to unmarshal event payload: %v: %w", err, asynq.SkipRetry)
	}
	if e.ID == "" || e.Type == "" {
		p.metrics.Dispatched(string(e.Type), "poison")
		return fmt.Errorf("event without id or type: %w", asynq.SkipRetry)
	}

	recipients, err := p.recipientsFor(ctx, e)
	if err != nil {
		p.metrics.Dispatched(string(e.Type), "error")
		return err
	}
	if len(recipients) == 0 && p.publisher == nil {
		log.Printf("WARN: no recipients for event %s (%s)", e.Type, e.ID)
	}

	data := p.templateData(ctx, e)
	timeout := p.configService.GetDuration(ctx, "NOTIFICATION_TIMEOUT", p.cfg.NotificationTimeout)

	for _, r := range recipients {
		if err := p.notify(ctx, e, r, data, timeout); err != nil {
			p.metrics.Dispatched(string(e.Type), "error")
			return err
		}
	}

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, e); err != nil {
			p.metrics.Dispatched(string(e.Type), "error")
			return err
		}
	}

	p.metrics.Dispatched(string(e.Type), "ok")
	return nil
}

func (p *TaskProcessor) notify(ctx context.Context, e events.Event, r recipient, data map[string]string, timeout time.Duration) error {
	user, err := p.userService.FindByID(ctx, r.userID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			log.Printf("WARN: recipient %s of event %s (%s) not found, skipping", r.userID, e.Type, e.ID)
			return nil
		}
		return fmt.Errorf("failed to load recipient %s: %w", r.userID, err)
	}

	tmpl, err := p.emailTemplateService.GetTemplate(ctx, r.templateID, services.DefaultTemplateLocale)
	if err != nil {
		return fmt.Errorf("failed to load template %s: %w", r.templateID, err)
	}
	title, body := tmpl.Render(data)

	notice := &models.Notice{
		UserID:               user.ID,
		EventType:            string(e.Type),
		EventID:              e.ID,
		Title:                title,
		Body:                 body,
		GrantAccessRequestID: e.GrantAccessRequestID,
		Read:                 false,
	}
	if !e.PreMarketRequestID.IsZero() {
		id := e.PreMarketRequestID
		notice.PreMarketRequestID = &id
	}
	if err := p.noticeService.Create(ctx, notice); err != nil {
		return err
	}

	task, err := NewEmailDeliveryTask(EmailTaskPayload{
		To:         user.Email,
		TemplateID: r.templateID,
		Locale:     services.DefaultTemplateLocale,
		Data:       data,
	}, fmt.Sprintf("%s:%s:%s", e.ID, user.ID, r.templateID), p.cfg.NotificationMaxRetries, timeout)
	if err != nil {
		return err
	}
	if _, err := p.taskClient.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("failed to enqueue email for %s: %w", user.ID, err)
	}
	return nil
}

func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.To == "" {
		return fmt.Errorf("email task without recipient: %w", asynq.SkipRetry)
	}

	locale := payload.Locale
	if locale == "" {
		locale = services.DefaultTemplateLocale
	}

	tmpl, err := p.emailTemplateService.GetTemplate(ctx, payload.TemplateID, locale)
	if err != nil {
		log.Printf("Error getting email template %s/%s: %v", payload.TemplateID, locale, err)
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("email template not found: %w", asynq.SkipRetry)
		}
		return err
	}
	subject, body := tmpl.Render(payload.Data)

	fromAddress := p.cfg.SmtpFromAddress
	if fromAddress == "" {
		fromAddress = "noreply@example.com"
		log.Printf("Warning: SmtpFromAddress not configured, using fallback %s for email to %s", fromAddress, payload.To)
	}

	rawMessage := email.Compose(fromAddress, payload.To, subject, body, payload.TemplateID, time.Now())
	if err := p.emailSender.Send(ctx, []string{payload.To}, subject, rawMessage); err != nil {
		log.Printf("WARN: email to %s (%s) failed: %v", payload.To, payload.TemplateID, err)
		return err
	}

	fmt.Printf("Email task processed successfully: To=%s, Template=%s\n", payload.To, payload.TemplateID)
	return nil
}
