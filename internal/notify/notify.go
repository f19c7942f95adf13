// internal/notify/notify.go
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"

	"cardtrade-workers/internal/common/config"
	"cardtrade-workers/internal/common/errors"
	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/common/metrics"
	"cardtrade-workers/internal/models"
)

// SESService is the slice of the SES API the notifier uses.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SNSService is the slice of the SNS API the notifier uses.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// ContactReader resolves a user's delivery addresses.
type ContactReader interface {
	Profile(ctx context.Context, userID string) (*models.Profile, error)
}

// Notifier tells users about newly discovered high-quality matches. It
// diffs the freshly persisted set against the previous one by candidate
// ID, so a recompute that merely rescored existing candidates stays
// silent. Only candidates at or above the configured score floor are
// announced.
type Notifier struct {
	cfg    config.NotificationConfig
	users  ContactReader
	ses    SESService
	sns    SNSService
	logger logger.Logger
}

func New(cfg config.NotificationConfig, users ContactReader, sesClient SESService, snsClient SNSService, log logger.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		users:  users,
		ses:    sesClient,
		sns:    snsClient,
		logger: log.WithFields(map[string]interface{}{"component": "notifier"}),
	}
}

// NewMatches returns the candidates in next that were absent from prev
// and clear the score floor.
func (n *Notifier) NewMatches(prev, next []models.MatchCandidate) []models.MatchCandidate {
	known := make(map[string]bool, len(prev))
	for _, c := range prev {
		known[c.CandidateID] = true
	}

	var fresh []models.MatchCandidate
	for _, c := range next {
		if !known[c.CandidateID] && c.Score >= n.cfg.MinScore {
			fresh = append(fresh, c)
		}
	}
	return fresh
}

// NotifyNew announces the new candidates of a completed run to its user.
// Nothing new, or a user with no contact details, is a silent no-op.
func (n *Notifier) NotifyNew(ctx context.Context, userID string, prev, next []models.MatchCandidate) error {
	fresh := n.NewMatches(prev, next)
	if len(fresh) == 0 {
		return nil
	}

	profile, err := n.users.Profile(ctx, userID)
	if err != nil {
		return errors.NewNotificationSendFailedError("lookup", err)
	}
	if profile == nil {
		n.logger.Warn("notification target has no profile", map[string]interface{}{"userId": userID})
		return nil
	}

	notificationID := uuid.New().String()

	if n.cfg.SNS.Enabled && n.cfg.SNS.TopicARN != "" {
		if err := n.publishEvent(ctx, notificationID, userID, fresh); err != nil {
			return errors.NewNotificationSendFailedError("sns", err)
		}
		metrics.NotificationsSent.WithLabelValues("sns").Inc()
	}

	if n.cfg.Email.Enabled && profile.Email != "" {
		if err := n.sendDigest(ctx, profile.Email, fresh); err != nil {
			return errors.NewNotificationSendFailedError("email", err)
		}
		metrics.NotificationsSent.WithLabelValues("email").Inc()
	}

	n.logger.Info("new matches announced", map[string]interface{}{
		"userId":         userID,
		"notificationId": notificationID,
		"count":          len(fresh),
	})
	return nil
}

// publishEvent emits a machine-readable event for downstream consumers
// (mobile push, in-app inbox).
func (n *Notifier) publishEvent(ctx context.Context, notificationID, userID string, fresh []models.MatchCandidate) error {
	payload := map[string]interface{}{
		"notificationId": notificationID,
		"userId":         userID,
		"type":           "new-matches",
		"matches":        summarize(fresh),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.cfg.SNS.TopicARN),
		Message:  aws.String(string(body)),
	})
	return err
}

func (n *Notifier) sendDigest(ctx context.Context, to string, fresh []models.MatchCandidate) error {
	subject := fmt.Sprintf("%d new trade match", len(fresh))
	if len(fresh) > 1 {
		subject += "es"
	}

	var b strings.Builder
	b.WriteString("New trade partners found for you:\n\n")
	for _, c := range fresh {
		fmt.Fprintf(&b, "- %s (match quality %d, %d cards each way)\n",
			c.CandidateID, c.Score, len(c.OffersToUser))
	}

	_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(b.String())},
			},
		},
		Source: aws.String(n.cfg.Email.FromEmail),
	})
	return err
}

func summarize(candidates []models.MatchCandidate) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, map[string]interface{}{
			"candidateId": c.CandidateID,
			"score":       c.Score,
			"totalValue":  c.TotalValue(),
		})
	}
	return out
}
