// Package app wires the Kasumi application together: session store, Matrix
// transport, recognizer, knowledge base, SmartThings client, sign-in service
// and the bot itself, plus the per-conversation turn serialization the
// dialog engine requires.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kasumi-bot/kasumi/common/trace"
	"github.com/kasumi-bot/kasumi/internal/kasumi/auth"
	"github.com/kasumi-bot/kasumi/internal/kasumi/bot"
	"github.com/kasumi-bot/kasumi/internal/kasumi/dialog"
	"github.com/kasumi-bot/kasumi/internal/kasumi/matrix"
	"github.com/kasumi-bot/kasumi/internal/kasumi/qna"
	"github.com/kasumi-bot/kasumi/internal/kasumi/recognizer"
	"github.com/kasumi-bot/kasumi/internal/kasumi/session"
	"github.com/kasumi-bot/kasumi/internal/kasumi/smartthings"
)

// turnQueueSize bounds the backlog of unprocessed messages per conversation.
// When a conversation's queue is full, further messages are dropped with a
// warning rather than blocking the sync loop.
const turnQueueSize = 16

// Config holds application configuration.
type Config struct {
	DatabasePath string
	Matrix       matrix.Config
	Recognizer   recognizer.Config
	QnA          qna.Config
	Auth         auth.Config
	// Connection names the OAuth connection the flows sign in against.
	Connection string
	// HTTPAddr is the TCP address of the HTTP server carrying the OAuth
	// callback route (e.g. ":8080"). Empty disables the server, which leaves
	// sign-in prompts resolving empty after their timeout.
	HTTPAddr string
	// SmartThingsBaseURL overrides the device API endpoint, for tests and
	// private deployments. Empty means the public API.
	SmartThingsBaseURL string
}

// App is the assembled application.
type App struct {
	config *Config
	store  *session.Store
	matrix *matrix.Client
	bot    *bot.Bot
	httpd  *http.Server

	mu      sync.Mutex
	workers map[string]chan matrix.Message
	wg      sync.WaitGroup
}

// New builds the application from configuration.
func New(config *Config) (*App, error) {
	store, err := session.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	matrixConfig := config.Matrix
	matrixConfig.DB = store.DB()
	matrixClient, err := matrix.New(&matrixConfig)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	authSvc := auth.NewService(config.Auth)

	var devices []smartthings.Option
	if config.SmartThingsBaseURL != "" {
		devices = append(devices, smartthings.WithBaseURL(config.SmartThingsBaseURL))
	}

	connection := config.Connection
	if connection == "" {
		connection = "smartthings"
	}

	kasumiBot, err := bot.New(bot.Config{
		Recognizer: recognizer.New(config.Recognizer),
		QnA:        qna.New(config.QnA),
		Devices:    smartthings.NewClient(devices...),
		SignIn:     authSvc,
		Connection: connection,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build bot: %w", err)
	}

	var httpd *http.Server
	if config.HTTPAddr != "" {
		mux := http.NewServeMux()
		authSvc.RegisterRoutes(mux)
		httpd = &http.Server{Addr: config.HTTPAddr, Handler: mux}
	} else {
		slog.Warn("no HTTP address configured; OAuth sign-in callbacks cannot be received")
	}

	return &App{
		config:  config,
		store:   store,
		matrix:  matrixClient,
		bot:     kasumiBot,
		httpd:   httpd,
		workers: make(map[string]chan matrix.Message),
	}, nil
}

// Run starts the application and blocks until an interrupt signal arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.httpd != nil {
		go func() {
			slog.Info("starting HTTP server", "addr", a.httpd.Addr)
			if err := a.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server stopped", "err", err)
			}
		}()
	}

	slog.Info("starting Matrix sync", "user", a.matrix.UserID())
	if err := a.matrix.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	slog.Info("Kasumi is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop stops the application and drains in-flight turns.
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	a.mu.Lock()
	for _, queue := range a.workers {
		close(queue)
	}
	a.workers = make(map[string]chan matrix.Message)
	a.mu.Unlock()
	a.wg.Wait()

	if a.httpd != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpd.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown", "err", err)
		}
	}

	slog.Info("closing database")
	a.store.Close()
}

// handleMessage enqueues an inbound message on its conversation's worker.
// One worker goroutine per conversation processes turns in FIFO order, so a
// turn always completes before the next one for the same conversation
// begins; independent conversations proceed concurrently.
func (a *App) handleMessage(_ context.Context, msg matrix.Message) {
	a.mu.Lock()
	queue, ok := a.workers[msg.RoomID]
	if !ok {
		queue = make(chan matrix.Message, turnQueueSize)
		a.workers[msg.RoomID] = queue
		a.wg.Add(1)
		go a.runWorker(queue)
	}
	a.mu.Unlock()

	select {
	case queue <- msg:
	default:
		slog.Warn("conversation queue full, dropping message", "room", msg.RoomID)
	}
}

// runWorker drains one conversation's queue until it is closed.
func (a *App) runWorker(queue chan matrix.Message) {
	defer a.wg.Done()
	for msg := range queue {
		a.processTurn(msg)
	}
}

// processTurn runs one full turn: restore the session, hand the message to
// the bot, persist the resulting stack.
func (a *App) processTurn(msg matrix.Message) {
	turnID := trace.NewTurnID()
	ctx, cancel := context.WithTimeout(trace.WithTurnID(context.Background(), turnID), dialog.DefaultSignInTimeout+time.Minute)
	defer cancel()

	stack := a.loadStack(ctx, msg.RoomID)

	updated, err := a.bot.HandleTurn(ctx, a.matrix.Room(msg.RoomID), stack, msg.Body)
	if err != nil {
		slog.Error("turn failed", "turn", turnID, "room", msg.RoomID, "err", err)
		return
	}

	if err := a.persistStack(ctx, msg.RoomID, updated); err != nil {
		slog.Error("failed to persist session", "turn", turnID, "room", msg.RoomID, "err", err)
	}
}

// persistStack writes the turn's resulting stack to the session store. An
// empty stack (completed or cancelled conversation) deletes the session row
// instead of storing an empty snapshot.
func (a *App) persistStack(ctx context.Context, conversationKey string, stack *dialog.Stack) error {
	if stack.Depth() == 0 {
		return a.store.Delete(ctx, conversationKey)
	}
	snapshot, err := stack.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot dialog stack: %w", err)
	}
	return a.store.SaveStack(ctx, conversationKey, snapshot)
}

// loadStack restores the conversation's dialog stack. A missing session or a
// snapshot that fails validation both yield a fresh stack; a bad snapshot is
// logged and discarded rather than crashing the conversation.
func (a *App) loadStack(ctx context.Context, conversationKey string) *dialog.Stack {
	data, err := a.store.LoadStack(ctx, conversationKey)
	if errors.Is(err, session.ErrNotFound) {
		return dialog.NewStack()
	}
	if err != nil {
		slog.Warn("failed to load session, starting fresh", "room", conversationKey, "err", err)
		return dialog.NewStack()
	}

	stack, err := dialog.RestoreStack(data)
	if err != nil {
		slog.Warn("discarding invalid session snapshot", "room", conversationKey, "err", err)
		return dialog.NewStack()
	}
	return stack
}
