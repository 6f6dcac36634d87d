package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/IndexPilot/server/internal/storage"
	"github.com/rs/zerolog"
)

// SMTPConfig holds outbound mail settings for the daily digest.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sendMailFunc matches smtp.SendMail; injectable for tests.
type sendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Digest composes and sends the daily indexation summary email per project.
type Digest struct {
	store    storage.Store
	cfg      SMTPConfig
	sendMail sendMailFunc
	logger   zerolog.Logger
}

// NewDigest creates a digest sender.
func NewDigest(store storage.Store, cfg SMTPConfig, logger zerolog.Logger) *Digest {
	return &Digest{
		store:    store,
		cfg:      cfg,
		sendMail: smtp.SendMail,
		logger:   logger,
	}
}

// Run sends one digest per notifiable project covering the last 24 hours.
// Projects with no newly indexed URLs are skipped. Per-project failures are
// logged and do not stop the rest of the run.
func (d *Digest) Run(ctx context.Context, now time.Time) (sent int, err error) {
	if d.cfg.Host == "" || d.cfg.From == "" {
		d.logger.Debug().Msg("digest.smtp_not_configured")
		return 0, nil
	}

	projects, err := d.store.ListNotifiableProjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("notify: list digest projects: %w", err)
	}

	since := now.Add(-24 * time.Hour)
	for _, project := range projects {
		urls, err := d.store.ListIndexedSince(ctx, project.ID, since)
		if err != nil {
			d.logger.Error().Err(err).Str("project_id", project.ID).Msg("digest.query_failed")
			continue
		}
		if len(urls) == 0 {
			continue
		}

		if err := d.send(project, urls, now); err != nil {
			d.logger.Error().Err(err).Str("project_id", project.ID).Msg("digest.send_failed")
			continue
		}
		sent++
	}

	d.logger.Info().Int("sent", sent).Msg("digest.completed")
	return sent, nil
}

func (d *Digest) send(project storage.Project, urls []storage.URL, now time.Time) error {
	subject := fmt.Sprintf("%s: %d URL(s) indexed in the last 24 hours", project.Name, len(urls))

	var body strings.Builder
	fmt.Fprintf(&body, "Indexation digest for %s (%s)\r\n\r\n", project.Name, now.Format("2006-01-02"))
	for _, u := range urls {
		when := ""
		if u.IndexedAt != nil {
			when = u.IndexedAt.UTC().Format("15:04 MST")
		}
		fmt.Fprintf(&body, "  %s  %s\r\n", when, u.Address)
	}
	fmt.Fprintf(&body, "\r\nTotal indexed for this project: %d of %d URLs\r\n", project.IndexedCount, project.TotalURLs)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		d.cfg.From, project.NotifyEmail, subject, body.String())

	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)
	return d.sendMail(addr, auth, d.cfg.From, []string{project.NotifyEmail}, []byte(msg))
}
