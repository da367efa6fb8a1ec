package main

import (
	"context"
	"log"
	"time"

	"github.com/aegs-platform/aegs-api/internal/mailer"
	"github.com/aegs-platform/aegs-api/internal/repository"
	"github.com/aegs-platform/aegs-api/internal/service"
	"github.com/aegs-platform/aegs-api/pkg/config"
	"github.com/aegs-platform/aegs-api/pkg/database"
	"github.com/aegs-platform/aegs-api/pkg/export"
	"github.com/aegs-platform/aegs-api/pkg/logger"
	"github.com/aegs-platform/aegs-api/pkg/storage"
)

// Scheduled sweep that issues certificates for every eligible registration
// of ended events. Intended to be run from cron.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	certStorage, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init certificate storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL)

	var mail mailer.Mailer = mailer.NoopMailer{}
	if cfg.Mailer.Enabled {
		mail = mailer.NewSMTPMailer(cfg.SMTP)
	}
	notifier := mailer.NewNotifier(mail, cfg.Mailer, logr)
	notifier.Start(context.Background())
	defer notifier.Stop()

	eventRepo := repository.NewEventRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	certificateRepo := repository.NewCertificateRepository(db)
	auditSvc := service.NewAuditService(repository.NewAuditRepository(db), logr)

	certificates := service.NewCertificateService(
		certificateRepo,
		registrationRepo,
		eventRepo,
		notifier,
		auditSvc,
		export.NewPDFExporter(),
		certStorage,
		signer,
		nil,
		logr,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := certificates.AutoIssue(ctx, nil)
	if err != nil {
		logr.Sugar().Fatalw("certificate sweep failed", "error", err)
	}

	logr.Sugar().Infow("certificate sweep finished",
		"issued", result.Issued,
		"skipped", len(result.Skipped),
	)
}
