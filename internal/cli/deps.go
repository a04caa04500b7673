package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/missbott/backend/internal/audit"
	"github.com/missbott/backend/internal/auth"
	rediscache "github.com/missbott/backend/internal/cache/redis"
	"github.com/missbott/backend/internal/llm"
	"github.com/missbott/backend/internal/mail"
	"github.com/missbott/backend/internal/queue"
	"github.com/missbott/backend/internal/storage/sqlite"
	"github.com/missbott/backend/pkg/config"
	"github.com/missbott/backend/pkg/logger"
)

// services holds the long-lived clients shared by every command.
type services struct {
	cfg     *config.Config
	store   *sqlite.Client
	redis   *rediscache.Client
	streams *queue.Streams
	llm     *llm.Client
	persona mail.Persona
	auditor *audit.Auditor
	sender  *mail.SMTPSender
	auth    *auth.Manager
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// buildServices opens storage and constructs the audit pipeline. Redis is
// optional unless requireRedis is set; without it there is no PageSpeed cache
// and no audit queue.
func buildServices(ctx context.Context, cfg *config.Config, requireRedis bool) (*services, error) {
	s := &services{cfg: cfg}

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	s.store = store

	if err := store.InitSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.Redis.Enabled {
		client, err := rediscache.NewClient(ctx, cfg.Redis)
		switch {
		case err == nil:
			s.redis = client
			s.streams = queue.NewStreams(client.Redis(), cfg.Queue.Prefix)
		case requireRedis:
			s.Close()
			return nil, err
		default:
			logger.Warn("Redis unavailable; PageSpeed cache and audit queue disabled", zap.Error(err))
		}
	} else if requireRedis {
		s.Close()
		return nil, fmt.Errorf("redis is disabled but required by this command")
	}

	s.llm = llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     seconds(cfg.LLM.TimeoutSec),
	})
	if s.llm.Configured() {
		logger.Info("OpenAI client ready", zap.String("model", s.llm.Model()))
	} else {
		logger.Warn("OpenAI API key not set; drafts and lead scoring are disabled")
	}

	s.persona = mail.Persona{
		Name:    cfg.Persona.Name,
		Title:   cfg.Persona.Title,
		Email:   cfg.Persona.Email,
		Website: cfg.Persona.Website,
	}

	var cache audit.PageSpeedCache
	if s.redis != nil {
		cache = s.redis
	}

	s.auditor = audit.NewAuditor(
		audit.NewTLSChecker(audit.TLSCheckerConfig{
			Timeout:      seconds(cfg.Audit.SSLTimeoutSec),
			CriticalDays: cfg.Audit.CriticalSSLDays,
		}),
		audit.NewPageSpeedClient(audit.PageSpeedConfig{
			APIKey:   cfg.PageSpeed.APIKey,
			Endpoint: cfg.PageSpeed.Endpoint,
			Timeout:  seconds(cfg.PageSpeed.TimeoutSec),
			CacheTTL: seconds(cfg.PageSpeed.CacheTTLSec),
		}, cache),
		audit.NewCrawler(audit.CrawlerConfig{
			Timeout:     seconds(cfg.Audit.CrawlTimeoutSec),
			LinkTimeout: seconds(cfg.Audit.LinkTimeoutSec),
			MaxLinks:    cfg.Audit.MaxLinks,
			Workers:     cfg.Audit.LinkWorkers,
		}),
		audit.NewDrafter(s.llm, s.persona, audit.DrafterConfig{
			Attempts: cfg.Audit.DraftAttempts,
			Timeout:  seconds(cfg.Audit.DraftTimeoutSec),
		}),
	)

	s.sender = mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
	})

	s.auth = auth.NewManager(
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute,
		cfg.Auth.StaffUsername,
		cfg.Auth.StaffPasswordHash,
	)

	return s, nil
}

func (s *services) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}
}
