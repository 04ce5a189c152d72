// Package app arma el grafo de dependencias a partir de config.Config.
// Lo usan cmd/api, cmd/worker y los tests end-to-end del router.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinical-coding/internal/adapters/analytics/powerbi"
	"clinical-coding/internal/adapters/archive/s3archive"
	"clinical-coding/internal/adapters/auth/identity"
	"clinical-coding/internal/adapters/notify/flow"
	"clinical-coding/internal/adapters/queue/kafkaqueue"
	memqueue "clinical-coding/internal/adapters/queue/memory"
	"clinical-coding/internal/adapters/queue/sqsqueue"
	mem "clinical-coding/internal/adapters/storage/memory"
	pg "clinical-coding/internal/adapters/storage/postgres"
	"clinical-coding/internal/adapters/suggestion/composite"
	"clinical-coding/internal/adapters/suggestion/openai"
	"clinical-coding/internal/adapters/suggestion/rules"
	"clinical-coding/internal/domain/audit"
	"clinical-coding/internal/domain/deadletter"
	"clinical-coding/internal/domain/episodes"
	"clinical-coding/internal/domain/queries"
	"clinical-coding/internal/domain/reconcile"
	"clinical-coding/internal/domain/reverts"
	"clinical-coding/internal/platform/config"
	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/ports/analytics"
	"clinical-coding/internal/ports/auth"
	"clinical-coding/internal/ports/notify"
	"clinical-coding/internal/ports/suggestion"
)

const archivePrefix = "clinical-coding"

type App struct {
	Config config.Config
	Log    logger.Logger

	Audit       *audit.Service
	Episodes    *episodes.Service
	Reverts     *reverts.Service
	Queries     *queries.Service
	Reconciler  *reconcile.Reconciler
	DeadLetters *deadletter.Service
	Consumer    *deadletter.Consumer

	// Verifier es nil en modo dev (sin IDP_BASE_URL).
	Verifier auth.AuthVerifier

	closers []func() error
}

// episodeStore lo implementan los repos de episodios memory y postgres.
type episodeStore interface {
	episodes.Repository
	queries.EpisodeLookup
}

type repositories struct {
	episodes    episodeStore
	audit       audit.Repository
	reverts     reverts.Repository
	queries     queries.Repository
	deadletters deadletter.Repository
}

// New conecta storage, adapters externos y servicios. Los adapters opcionales
// (IdP, OpenAI, Power BI, Flow, S3) solo se activan si su config está completa.
func New(ctx context.Context, cfg config.Config, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	repos, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	engine, err := a.suggestionEngine()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	queue, err := a.openQueue(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	archive, err := a.openArchive(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	verifier, err := a.authVerifier()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Verifier = verifier

	a.Audit = audit.NewService(repos.audit)
	a.Episodes = episodes.NewService(repos.episodes, a.Audit, engine, episodes.Options{
		StrictTransitions: cfg.Workflow.StrictTransitions,
	})
	a.Reverts = reverts.NewService(repos.reverts, repos.episodes, a.Audit)
	a.Queries = queries.NewService(repos.queries, repos.episodes, a.Audit, a.notifier(), log)
	a.Reconciler = reconcile.New(a.Queries, repos.episodes, a.Audit, engine, a.analyticsSink(), log, reconcile.Options{
		MinInterval:    cfg.Resuggest.MinInterval,
		LockPerEpisode: cfg.Resuggest.LockPerEpisode,
	})

	proc := deadletter.NewProcessor(a.Reconciler, cfg.Resuggest.DLQFullReplay)
	a.DeadLetters = deadletter.NewService(repos.deadletters, queue, proc, log)
	a.Consumer = deadletter.NewConsumer(queue, a.DeadLetters, archive, log, deadletter.ConsumerOptions{
		Backend:      cfg.DLQ.Provider,
		MaxAttempts:  cfg.DLQ.MaxAttempts,
		IdleDelay:    cfg.DLQ.IdleDelay,
		MaxRetryWait: cfg.DLQ.MaxRetryWait,
	})

	log.Info("app wired", map[string]any{
		"storage":            storageName(cfg),
		"dlq_provider":       cfg.DLQ.Provider,
		"min_interval":       cfg.Resuggest.MinInterval.String(),
		"lock_per_episode":   cfg.Resuggest.LockPerEpisode,
		"strict_transitions": cfg.Workflow.StrictTransitions,
		"auth_mode":          authMode(verifier),
	})
	return a, nil
}

// Close libera cola y base en orden inverso de apertura.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStorage(ctx context.Context) (repositories, error) {
	if a.Config.DBDSN == "" {
		return repositories{
			episodes:    mem.NewEpisodeRepo(),
			audit:       mem.NewAuditRepo(),
			reverts:     mem.NewRevertRepo(),
			queries:     mem.NewQueryRepo(),
			deadletters: mem.NewDeadLetterRepo(),
		}, nil
	}

	db, err := pg.Open(a.Config.DBDSN)
	if err != nil {
		return repositories{}, fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pg.Migrate(migrateCtx, db); err != nil {
		_ = a.Close()
		return repositories{}, err
	}
	return postgresRepos(db), nil
}

func postgresRepos(db *sql.DB) repositories {
	return repositories{
		episodes:    pg.NewEpisodesRepo(db),
		audit:       pg.NewAuditRepo(db),
		reverts:     pg.NewRevertsRepo(db),
		queries:     pg.NewQueriesRepo(db),
		deadletters: pg.NewDeadLettersRepo(db),
	}
}

// suggestionEngine: reglas siempre; con OPENAI_API_KEY el modelo va primero
// y las reglas quedan de fallback.
func (a *App) suggestionEngine() (suggestion.Engine, error) {
	fallback := rules.New(a.Log)
	oc := a.Config.OpenAI
	if oc.APIKey == "" {
		return fallback, nil
	}

	client, err := openai.NewClient(openai.Config{
		APIKey:     oc.APIKey,
		Endpoint:   oc.Endpoint,
		Deployment: oc.Deployment,
	})
	if err != nil {
		return nil, err
	}
	return composite.New(openai.New(client, oc.Deployment, a.Log), fallback, a.Log), nil
}

func (a *App) openQueue(ctx context.Context) (deadletter.Queue, error) {
	var q deadletter.Queue

	switch a.Config.DLQ.Provider {
	case config.DLQSQS:
		client, err := sqsqueue.NewClient(ctx, a.Config.AWSEndpoint)
		if err != nil {
			return nil, err
		}
		url, err := sqsqueue.ResolveQueueURL(ctx, client, a.Config.DLQ.SQSQueueName)
		if err != nil {
			return nil, err
		}
		q = sqsqueue.New(client, sqsqueue.Options{
			QueueURL:          url,
			VisibilityTimeout: a.Config.DLQ.SQSVisibilityTimeout,
			RetryVisibility:   a.Config.DLQ.SQSRetryVisibility,
		})
	case config.DLQKafka:
		reader, writer := kafkaqueue.Dial(a.Config.DLQ.KafkaBrokers, a.Config.DLQ.KafkaTopic, a.Config.DLQ.KafkaGroup)
		q = kafkaqueue.New(reader, writer, kafkaqueue.Options{})
	default:
		q = memqueue.New()
	}

	a.closers = append(a.closers, q.Close)
	return q, nil
}

func (a *App) openArchive(ctx context.Context) (deadletter.Archiver, error) {
	if a.Config.DLQ.ArchiveBucket == "" {
		return nil, nil
	}
	client, err := s3archive.NewClient(ctx, a.Config.AWSEndpoint)
	if err != nil {
		return nil, err
	}
	return s3archive.New(client, a.Config.DLQ.ArchiveBucket, archivePrefix), nil
}

func (a *App) authVerifier() (auth.AuthVerifier, error) {
	if a.Config.IdP.BaseURL == "" {
		return nil, nil
	}
	client, err := identity.NewClient(identity.Config{
		BaseURL: a.Config.IdP.BaseURL,
		APIKey:  a.Config.IdP.APIKey,
	})
	if err != nil {
		return nil, err
	}
	return identity.NewVerifier(client, identity.VerifierOptions{CacheTTL: a.Config.IdP.CacheTTL}), nil
}

// analyticsSink devuelve una interfaz nil (no un *Sink nil) cuando Power BI
// no está configurado.
func (a *App) analyticsSink() analytics.Sink {
	pc := a.Config.PowerBI
	sink, err := powerbi.New(powerbi.Config{
		TenantID:     pc.TenantID,
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		WorkspaceID:  pc.WorkspaceID,
		DatasetID:    pc.DatasetID,
	})
	if err != nil {
		a.Log.Info("analytics push disabled", map[string]any{"reason": err.Error()})
		return nil
	}
	return sink
}

func (a *App) notifier() notify.Notifier {
	n, err := flow.New(a.Config.FlowWebhookURL, 0)
	if err != nil {
		a.Log.Info("query notifications disabled", map[string]any{"reason": err.Error()})
		return nil
	}
	return n
}

func storageName(cfg config.Config) string {
	if cfg.DBDSN == "" {
		return "memory"
	}
	return "postgres"
}

func authMode(v auth.AuthVerifier) string {
	if v == nil {
		return "dev"
	}
	return "idp"
}
