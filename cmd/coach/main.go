package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/psysense/voice-coach/internal/analysis"
	"github.com/psysense/voice-coach/internal/coach"
	"github.com/psysense/voice-coach/internal/config"
	"github.com/psysense/voice-coach/internal/device"
	"github.com/psysense/voice-coach/internal/gemini"
	"github.com/psysense/voice-coach/internal/knowledge"
	"github.com/psysense/voice-coach/internal/live"
	"github.com/psysense/voice-coach/internal/observability"
)

type options struct {
	persona  string
	scenario string
	goal     string
	lang     string
	tier     string
	research bool
	analyze  bool
}

func main() {
	os.Exit(run())
}

func run() int {
	var opt options
	flag.StringVar(&opt.persona, "persona", "luna", "Coach persona: luna, marcus or sarah")
	flag.StringVar(&opt.scenario, "scenario", coach.GeneralScenarioID, "Practice scenario: general, work, relationship or interview")
	flag.StringVar(&opt.goal, "goal", "", "Custom goal for this session")
	flag.StringVar(&opt.lang, "lang", string(coach.LanguageEnglish), "Conversation language: en or th")
	flag.StringVar(&opt.tier, "tier", string(coach.TierStandard), "Quality tier: standard or premium")
	flag.BoolVar(&opt.research, "research", true, "Look up coaching frameworks before connecting")
	flag.BoolVar(&opt.analyze, "analyze", true, "Score the conversation when the session ends")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 2
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.ForComponent("coach-cli")

	persona, ok := coach.FindPersona(opt.persona)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown persona %q\n", opt.persona)
		return 2
	}
	scenario, ok := coach.FindScenario(opt.scenario, nil)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown scenario %q\n", opt.scenario)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	host, err := device.OpenHost(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open audio devices: %v\n", err)
		return 1
	}
	defer host.Close()

	cred := gemini.EnvCredential(cfg.GeminiAPIKey)
	helpers, err := gemini.HelpersFromConfig(ctx, cfg, cred, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create Gemini client: %v\n", err)
		return 1
	}

	transcript := live.NewTranscript()
	out := &printer{}
	controller := live.New(live.OptionsFromConfig(cfg,
		gemini.DialerFactory(cred, helpers.Models(), logger),
		host,
		out.callbacks(transcript),
	))
	defer controller.Close()

	connect := live.ConnectOptions{
		ScenarioPrompt: coach.ScenarioPrompt(scenario, opt.goal),
		ActiveAgent:    live.AgentFromPersona(persona),
		Language:       coach.Language(opt.lang).Normalize(),
		ServiceTier:    coach.Tier(opt.tier).Normalize(),
	}

	if opt.research {
		retrieval := knowledge.New(knowledge.Options{
			Embedder:   helpers,
			Researcher: helpers,
			Threshold:  cfg.KnowledgeMatchThreshold,
			Logger:     logger,
		})
		text, err := controller.Research(ctx, func(ctx context.Context) string {
			return retrieval.FetchContext(ctx, knowledge.Query{
				Goal:     opt.goal,
				Scenario: scenario.Label,
				Tier:     connect.ServiceTier,
			})
		})
		if err != nil {
			return 0
		}
		connect.RAGContext = text
	}

	if err := controller.Connect(ctx, connect); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		return 1
	}
	fmt.Println("Connected. Speak to your coach; press Ctrl-C to finish.")

	<-ctx.Done()
	controller.Disconnect()
	fmt.Println()

	messages := transcript.Messages()
	if !opt.analyze || len(messages) <= 4 {
		return 0
	}
	actx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	result := analysis.New(helpers, logger).Analyze(actx, messages, scenario.Label, &persona)
	if result == nil {
		fmt.Println("No analysis available for this session.")
		return 0
	}
	fmt.Printf("Clarity %.0f/10  Confidence %.0f/10  Empathy %.0f/10\n%s\n",
		result.ClarityScore, result.ConfidenceScore, result.EmpathyScore, result.Feedback)
	return 0
}

// printer writes the live conversation to the terminal
type printer struct {
	mu     sync.Mutex
	lastID string
}

func (p *printer) callbacks(transcript *live.Transcript) live.Callbacks {
	return live.Callbacks{
		OnStatusChange: func(state live.State) {
			p.line(fmt.Sprintf("[%s]", state))
		},
		OnTranscript: func(speaker coach.Speaker, text string, isFinal bool) {
			msg, ok := transcript.Add(speaker, text, isFinal)
			if !ok || text == "" {
				return
			}
			p.mu.Lock()
			defer p.mu.Unlock()
			if msg.ID != p.lastID {
				fmt.Printf("\n%s: ", strings.ToUpper(string(speaker)))
				p.lastID = msg.ID
			}
			fmt.Print(text)
		},
		OnToneChange: func(tone live.Tone) {
			p.mu.Lock()
			defer p.mu.Unlock()
			fmt.Printf(" (tone: %s)", tone)
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
		},
	}
}

func (p *printer) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Printf("\n%s\n", s)
	p.lastID = ""
}
