// Package main is the entry point for the condcoach experiment CLI.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/exprlab/condcoach/internal/config"
	"github.com/exprlab/condcoach/internal/credentials"
	"github.com/exprlab/condcoach/internal/experiment"
	"github.com/exprlab/condcoach/internal/llm"
	"github.com/exprlab/condcoach/internal/pipeline"
	"github.com/exprlab/condcoach/internal/scenario"
)

// Build-time variable (set via ldflags)
var version = "0.1.0"

func init() {
	// Load credentials from standard locations (silent if not found)
	// Priority: env vars > .env > ~/.config/condcoach/credentials.toml
	if creds, _, err := credentials.Load(); err == nil && creds != nil {
		creds.Apply()
	}
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("condcoach"),
		kong.Description("Controlled generation of behavioral support messages"),
		kong.UsageOnError(),
		kongVars(),
	)

	app, err := newApp(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := ctx.Run(app); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// appContext carries lazily constructed dependencies into command Run methods.
type appContext struct {
	cfg   *config.Config
	store *experiment.SQLiteStore
	mgr   *experiment.Manager
}

func newApp(configPath string) (*appContext, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	setupLogging(cfg.Log)
	return &appContext{cfg: cfg}, nil
}

func setupLogging(lc config.LogConfig) {
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if lc.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func (a *appContext) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

func (a *appContext) openStore() (*experiment.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := experiment.NewSQLiteStore(a.cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

// manager builds the full generation stack: provider, pipeline, store.
func (a *appContext) manager() (*experiment.Manager, error) {
	if a.mgr != nil {
		return a.mgr, nil
	}

	provider, err := llm.NewProvider(llm.Config{
		Provider:  a.cfg.LLM.Provider,
		Model:     a.cfg.LLM.Model,
		APIKey:    a.cfg.GetAPIKey(),
		BaseURL:   a.cfg.LLM.BaseURL,
		MaxTokens: a.cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	pipe := pipeline.NewController(provider, a.cfg.Pipeline.MaxAttempts)
	a.mgr = experiment.NewManager(store, pipe, rand.New(rand.NewSource(time.Now().UnixNano())))
	return a.mgr, nil
}

func (a *appContext) startParams(goal, contextText, directiveness, choiceFraming string, within bool) experiment.StartParams {
	if directiveness == "" {
		directiveness = a.cfg.Experiment.Directiveness
	}
	if choiceFraming == "" {
		choiceFraming = a.cfg.Experiment.ChoiceFraming
	}
	return experiment.StartParams{
		Goal:           goal,
		Directiveness:  directiveness,
		ChoiceFraming:  choiceFraming,
		WithinSubject:  within || a.cfg.Experiment.WithinSubject,
		InitialContext: contextText,
	}
}

// Run starts a session and prints the first instruction.
func (c *StartCmd) Run(app *appContext) error {
	mgr, err := app.manager()
	if err != nil {
		return err
	}

	sess, turn, err := mgr.StartSession(context.Background(),
		app.startParams(c.Goal, c.Context, c.Directiveness, c.ChoiceFraming, c.Within))
	if err != nil {
		return err
	}

	printKV("session", sess.ID)
	printKV("mode", string(sess.Mode))
	fmt.Println()
	printTurn(turn, 0, len(sess.ConditionOrder))
	return nil
}

// Run logs a reply and renders the next instruction in the same condition.
func (c *NextCmd) Run(app *appContext) error {
	mgr, err := app.manager()
	if err != nil {
		return err
	}

	turn, err := mgr.NextTurn(context.Background(), c.Session, c.Response, c.Choice)
	if err != nil {
		return err
	}

	_, index, total, err := mgr.CurrentCondition(c.Session)
	if err != nil {
		return err
	}
	printTurn(turn, index, total)
	return nil
}

// Run stores the evaluation, advances the condition, and renders the next
// block's instruction.
func (c *AdvanceCmd) Run(app *appContext) error {
	mgr, err := app.manager()
	if err != nil {
		return err
	}

	ev := &experiment.Evaluation{
		AutonomyItems:               c.Autonomy,
		CoercionItems:               c.Coercion,
		PerceivedDirectivenessItems: c.Directiveness,
		PerceivedChoiceItems:        c.Choice,
		IntentionItems:              c.Intention,
		FreeText:                    c.FreeText,
	}

	turn, done, err := mgr.AdvanceTurn(context.Background(), c.Session, c.Turn, ev, c.Response, c.ActionChoice)
	if err != nil {
		return err
	}
	if done {
		fmt.Println(titleStyle.Render("セッション完了"))
		return nil
	}

	_, index, total, err := mgr.CurrentCondition(c.Session)
	if err != nil {
		return err
	}
	printTurn(turn, index, total)
	return nil
}

// Run shows session progress.
func (c *StatusCmd) Run(app *appContext) error {
	store, err := app.openStore()
	if err != nil {
		return err
	}

	sess, err := store.GetSession(c.Session)
	if err != nil {
		return err
	}

	seq := sess.Sequence()
	pair, index, total := seq.Current()
	printKV("session", sess.ID)
	printKV("goal", sess.Goal)
	printKV("mode", string(sess.Mode))
	if seq.IsComplete() {
		printKV("progress", fmt.Sprintf("%d/%d (complete)", total, total))
	} else {
		printKV("progress", fmt.Sprintf("%d/%d", index+1, total))
		printKV("condition", pair.String())
	}
	return nil
}

// Run prints the session's fixed content plan.
func (c *PlanCmd) Run(app *appContext) error {
	mgr, err := app.manager()
	if err != nil {
		return err
	}

	p, err := mgr.GetOrCreateFixedPlan(context.Background(), c.Session)
	if err != nil {
		return err
	}

	printKV("goal", p.Goal)
	if p.Context != "" {
		printKV("context", p.Context)
	}
	fmt.Println()
	for _, opt := range p.Options {
		fmt.Println(labelStyle.Render(fmt.Sprintf("%s) %s（%d分）", opt.ID, opt.Action, opt.DurationMin)))
		for _, step := range opt.Steps {
			fmt.Println(bodyStyle.Render("・" + step))
		}
		fmt.Println(faintStyle.Render("  " + opt.Reason))
	}
	return nil
}

// Run drives a full scripted session.
func (c *PilotCmd) Run(app *appContext) error {
	defs := scenario.Builtin()
	if c.File != "" {
		var err error
		defs, err = scenario.Load(c.File)
		if err != nil {
			return err
		}
	}
	sc, err := defs.Get(c.Name)
	if err != nil {
		return err
	}

	mgr, err := app.manager()
	if err != nil {
		return err
	}

	ctx := context.Background()
	sess, turn, err := mgr.StartSession(ctx,
		app.startParams(sc.Goal, sc.Context, sc.Directiveness, sc.ChoiceFraming, sc.WithinSubject))
	if err != nil {
		return err
	}

	printKV("session", sess.ID)
	printKV("scenario", sc.Name)
	fmt.Println()
	total := len(sess.ConditionOrder)
	printTurn(turn, 0, total)

	for _, resp := range sc.Responses {
		fmt.Println()
		fmt.Println(faintStyle.Render("参加者: " + resp.Text))
		fmt.Println()

		if sc.WithinSubject {
			next, done, err := mgr.AdvanceTurn(ctx, sess.ID, turn.ID, nil, resp.Text, resp.ActionChoice)
			if err != nil {
				return err
			}
			if done {
				fmt.Println(titleStyle.Render("セッション完了"))
				return nil
			}
			turn = next
			_, index, _, err := mgr.CurrentCondition(sess.ID)
			if err != nil {
				return err
			}
			printTurn(turn, index, total)
		} else {
			turn, err = mgr.NextTurn(ctx, sess.ID, resp.Text, resp.ActionChoice)
			if err != nil {
				return err
			}
			printTurn(turn, 0, total)
		}
	}
	return nil
}

// Run exports every logged turn.
func (c *ExportCmd) Run(app *appContext) error {
	store, err := app.openStore()
	if err != nil {
		return err
	}

	rows, err := store.AllTurns()
	if err != nil {
		return err
	}

	out := os.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if c.Format == "json" {
		return experiment.WriteJSON(out, rows)
	}
	return experiment.WriteCSV(out, rows)
}

// Run reports backend configuration and, with --ping, reachability.
func (c *DoctorCmd) Run(app *appContext) error {
	cfg := app.cfg.LLM
	provider := cfg.Provider
	if provider == "" {
		provider = llm.InferProviderFromModel(cfg.Model)
	}

	printKV("provider", provider)
	printKV("model", cfg.Model)
	if app.cfg.GetAPIKey() == "" {
		printKV("api key", "missing")
		return fmt.Errorf("no API key found for provider %q", provider)
	}
	printKV("api key", "present")

	if !c.Ping {
		return nil
	}

	p, err := llm.NewProvider(llm.Config{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		APIKey:    app.cfg.GetAPIKey(),
		BaseURL:   cfg.BaseURL,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := p.Chat(ctx, llm.ChatRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "ping"}},
		MaxTokens: 8,
	})
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	printKV("backend", fmt.Sprintf("reachable (%s)", resp.Model))
	return nil
}

// Run shows version information.
func (c *VersionCmd) Run(app *appContext) error {
	fmt.Printf("condcoach version %s\n", version)
	return nil
}
