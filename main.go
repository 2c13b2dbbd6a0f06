package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
)

const usage = `menudash - restaurant menu dashboard and chat assistant

Usage:
  menudash [tui]              edit the menu and restaurant details
  menudash serve [-port N]    run the chat backend API
  menudash sync               rebuild the knowledge index
  menudash ask [-lang L] question...
`

func main() {
	env := LoadEnv()

	name, args := "tui", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}

	var err error
	switch name {
	case "tui":
		err = runTUI(env)
	case "serve":
		err = runServe(env, args)
	case "sync":
		err = runSync(env)
	case "ask":
		err = runAsk(env, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// --- Wiring ---

// app holds the opened stores; close releases their connections.
type app struct {
	menu    RecordStore
	details RecordStore
	history HistoryStore
	index   VectorIndex
	closers []func() error
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

type migrator interface {
	Migrate(ctx context.Context) error
}

func openApp(ctx context.Context, env Env) (*app, error) {
	a := &app{}

	switch env.StoreDriver {
	case "memory":
		a.menu = newMemoryStore(menuSchema, demoMenuRows...)
		a.details = newMemoryStore(detailsSchema, demoDetailRows...)

	case "sqlite", "postgres":
		d, dsn := sqliteDialect, env.SQLitePath
		if env.StoreDriver == "postgres" {
			d, dsn = postgresDialect, env.DatabaseURL
		}
		if dsn == "" {
			return nil, fmt.Errorf("STORE_DRIVER=%s needs a database location", env.StoreDriver)
		}
		db, err := openSQL(ctx, d, dsn)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		menu, details := newSQLStore(db, d, menuSchema), newSQLStore(db, d, detailsSchema)
		if err := migrate(ctx, menu, details); err != nil {
			a.close()
			return nil, err
		}
		a.menu, a.details = menu, details
		if err := a.openSQLSide(ctx, db, d); err != nil {
			a.close()
			return nil, err
		}

	case "dynamodb":
		cfg, err := loadAWSConfig(ctx, env.AWSRegion)
		if err != nil {
			return nil, err
		}
		client := dynamodb.NewFromConfig(cfg)
		a.menu = newDynamoStore(client, env.DynamoMenuTable, menuSchema)
		a.details = newDynamoStore(client, env.DynamoDetailsTable, detailsSchema)

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q (want memory, sqlite, postgres or dynamodb)", env.StoreDriver)
	}

	// Dynamo keeps rows only; history and the index still want SQL when one is configured.
	if a.history == nil && env.StoreDriver == "dynamodb" && (env.DatabaseURL != "" || env.SQLitePath != "") {
		d, dsn := sqliteDialect, env.SQLitePath
		if env.DatabaseURL != "" {
			d, dsn = postgresDialect, env.DatabaseURL
		}
		db, err := openSQL(ctx, d, dsn)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := a.openSQLSide(ctx, db, d); err != nil {
			a.close()
			return nil, err
		}
	}
	if a.history == nil {
		a.history = newMemoryHistory()
		a.index = newMemoryIndex()
	}
	log.Printf("stores ready (driver %s)", env.StoreDriver)
	return a, nil
}

func (a *app) openSQLSide(ctx context.Context, db *sql.DB, d sqlDialect) error {
	history, index := newSQLHistory(db, d), newSQLIndex(db, d)
	if err := migrate(ctx, history, index); err != nil {
		return err
	}
	a.history, a.index = history, index
	return nil
}

func migrate(ctx context.Context, ms ...migrator) error {
	for _, m := range ms {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// newAssistant builds the in-process assistant for the configured provider.
func newAssistant(ctx context.Context, env Env, a *app) (*Assistant, error) {
	var (
		gen Generator
		emb Embedder
	)
	switch env.LLMProvider {
	case "gemini":
		cli, err := newGeminiClient(ctx, env.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		gen = newGeminiGenerator(cli, env.GeminiModel, env.GeminiRPS)
		emb = newGeminiEmbedder(cli, env.GeminiEmbedModel, env.EmbedDimension, env.GeminiRPS)
	case "bedrock":
		cfg, err := loadAWSConfig(ctx, env.AWSRegion)
		if err != nil {
			return nil, err
		}
		client := bedrockruntime.NewFromConfig(cfg)
		gen = newBedrockGenerator(client, env.BedrockModelID)
		emb = newBedrockEmbedder(client, env.BedrockEmbedModelID, env.EmbedDimension)
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q (want gemini or bedrock)", env.LLMProvider)
	}

	cached, err := newCachedEmbedder(emb, embedCacheSize)
	if err != nil {
		return nil, err
	}
	log.Printf("assistant using %s", gen.Name())
	return NewAssistant(AssistantDeps{
		RestaurantName: env.RestaurantName,
		History:        a.history,
		Embedder:       cached,
		Index:          a.index,
		Generator:      gen,
		Menu:           a.menu,
		Details:        a.details,
	}), nil
}

// unavailableBackend stands in when no assistant can be built, so the
// editor still works and chat reports why it cannot answer.
type unavailableBackend struct {
	err error
}

func (b unavailableBackend) Send(context.Context, ChatRequest) (ChatReply, error) {
	return ChatReply{}, &UpstreamError{Err: b.err}
}

func (b unavailableBackend) SyncKnowledge(context.Context) (int, error) {
	return 0, &UpstreamError{Err: b.err}
}

func (b unavailableBackend) Summary(context.Context, string) (string, error) {
	return "", &UpstreamError{Err: b.err}
}

func (b unavailableBackend) ForgetSession(context.Context, string) error { return nil }

func chooseBackend(ctx context.Context, env Env, cfg Config, a *app) assistantBackend {
	if url := firstNonEmpty(env.BackendURL, cfg.BackendURL); url != "" {
		log.Printf("using chat backend at %s", url)
		return newRemoteBackend(url)
	}
	assistant, err := newAssistant(ctx, env, a)
	if err != nil {
		log.Printf("assistant unavailable: %v", err)
		return unavailableBackend{err: err}
	}
	return assistant
}

func loadSession() (Config, *Session) {
	cfg, err := LoadConfig()
	if err != nil {
		log.Printf("load config: %v", err)
		cfg = Config{Theme: "dark", Language: "en"}
	}
	session := newSession(cfg)
	if session.ID != cfg.SessionID {
		session.saveTo(&cfg)
		if err := SaveConfig(cfg); err != nil {
			log.Printf("save config: %v", err)
		}
	}
	return cfg, session
}

// --- Commands ---

func runTUI(env Env) error {
	if env.Debug {
		f, err := tea.LogToFile("debug.log", "menudash")
		if err != nil {
			return err
		}
		defer f.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	a, err := openApp(ctx, env)
	cancel()
	if err != nil {
		return err
	}
	defer a.close()

	cfg, session := loadSession()
	backend := chooseBackend(context.Background(), env, cfg, a)

	p := tea.NewProgram(newModel(cfg, session, a.menu, a.details, backend), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runServe(env Env, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.String("port", env.Port, "port to listen on")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !env.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, env)
	if err != nil {
		return err
	}
	defer a.close()

	assistant, err := newAssistant(ctx, env, a)
	if err != nil {
		return err
	}
	return serve(ctx, ":"+*port, assistant)
}

func runSync(env Env) error {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	a, err := openApp(ctx, env)
	if err != nil {
		return err
	}
	defer a.close()

	backend := chooseBackend(ctx, env, Config{}, a)
	n, err := backend.SyncKnowledge(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Knowledge index synced: %d chunks\n", n)
	return nil
}

func runAsk(env Env, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	lang := fs.String("lang", "", "answer language (en, zh, ja, ko)")
	delay := fs.Duration("delay", 20*time.Millisecond, "delay between revealed characters")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return errors.New("ask needs a question")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := openApp(ctx, env)
	if err != nil {
		return err
	}
	defer a.close()

	cfg, session := loadSession()
	if *lang != "" {
		if err := session.SetLanguage(*lang); err != nil {
			return err
		}
	}

	backend := chooseBackend(ctx, env, cfg, a)
	chatCtx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()
	reply, err := backend.Send(chatCtx, ChatRequest{Query: query, Language: session.Language, SessionID: session.ID})
	if err != nil {
		return err
	}

	return printRevealed(ctx, os.Stdout, reply.Text, *delay)
}

// printRevealed writes text to w one grapheme at a time.
func printRevealed(ctx context.Context, w io.Writer, text string, delay time.Duration) error {
	shown := 0
	for prefix := range Reveal(ctx, text, delay) {
		if _, err := io.WriteString(w, prefix[shown:]); err != nil {
			return err
		}
		shown = len(prefix)
	}
	_, err := io.WriteString(w, "\n")
	if err != nil {
		return err
	}
	return ctx.Err()
}
