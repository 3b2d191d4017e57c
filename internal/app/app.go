package app

import (
	"context"
	"log"
	"time"

	"github.com/healthchat-app/HealthChat/internal/config"
	"github.com/healthchat-app/HealthChat/internal/core"
	"github.com/healthchat-app/HealthChat/internal/core/clock"
	db "github.com/healthchat-app/HealthChat/internal/core/database"
	"github.com/healthchat-app/HealthChat/internal/core/llm"
	"github.com/healthchat-app/HealthChat/internal/core/mailer"
	"github.com/healthchat-app/HealthChat/internal/core/notify"
	objectclient "github.com/healthchat-app/HealthChat/internal/core/object-client"
)

type App struct {
	Store        core.ProfileStore
	ObjectClient core.ObjectClient
	Chat         *llm.GeminiChat
	Bus          *notify.Bus
	Server       *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	store, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Database initialized and ready.")

	objClient, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Object client initialized and ready.")

	chat, err := llm.NewGeminiChat(appCtx, cfg, objClient)
	if err != nil {
		return nil, err
	}
	log.Println("Chat provider initialized and ready.")

	smtpMailer, err := mailer.NewSMTPMailer(cfg)
	if err != nil {
		return nil, err
	}

	bus := notify.New()
	bus.Subscribe(func(e notify.Event) {
		log.Printf("[notify] %s: %s | %s", e.Kind, e.Title, e.Detail)
	})

	server := NewServer(cfg, store, objClient, chat, smtpMailer, clock.New(), bus)

	return &App{
		Store:        store,
		ObjectClient: objClient,
		Chat:         chat,
		Bus:          bus,
		Server:       server,
	}, nil
}

func (a *App) Close() {
	if a.Chat != nil {
		_ = a.Chat.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
