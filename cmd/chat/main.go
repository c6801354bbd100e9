// Command chat talks to the booking assistant from a terminal, using the same
// orchestrator, store and LLM configuration as the API server. Replies are not
// synthesized unless -voice is set.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"

	"github.com/wolfman30/dental-receptionist/cmd/mainconfig"
	"github.com/wolfman30/dental-receptionist/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dental-receptionist/internal/config"
	"github.com/wolfman30/dental-receptionist/internal/conversation"
	"github.com/wolfman30/dental-receptionist/internal/session"
	"github.com/wolfman30/dental-receptionist/internal/speech"
	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}

	sessionID := flag.String("session", "", "resume an existing session id")
	voice := flag.Bool("voice", false, "synthesize replies with Polly")
	flag.Parse()

	cfg := appconfig.Load()
	logger := logging.NewWithWriter(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg := mainconfig.AWSLoader(ctx, cfg)
	res := &bootstrap.Resources{}
	defer res.Close()

	orch, err := buildOrchestrator(ctx, cfg, awsCfg, *voice, res, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
		os.Exit(1)
	}
	if err := run(ctx, orch, *sessionID, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
		os.Exit(1)
	}
}

// textOnly names replies without rendering them.
type textOnly struct{}

func (textOnly) Synthesize(_ context.Context, text string) (string, error) {
	return speech.AudioName(text), nil
}

func buildOrchestrator(ctx context.Context, cfg *appconfig.Config, awsCfg func() (aws.Config, error), voice bool, res *bootstrap.Resources, logger *logging.Logger) (*conversation.Orchestrator, error) {
	backend, err := bootstrap.BuildSessionBackend(ctx, cfg, awsCfg, res, logger)
	if err != nil {
		return nil, err
	}
	llm, model, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, res, logger)
	if err != nil {
		return nil, err
	}

	var synth speech.Synthesizer = textOnly{}
	if voice {
		audioStore, err := bootstrap.BuildAudioStore(cfg, awsCfg, logger)
		if err != nil {
			return nil, err
		}
		if synth, err = bootstrap.BuildSynthesizer(cfg, awsCfg, audioStore, logger); err != nil {
			return nil, err
		}
	}
	profile := bootstrap.BuildProfile(cfg)
	notifier, err := bootstrap.BuildNotifier(cfg, awsCfg, profile, logger)
	if err != nil {
		return nil, err
	}

	return conversation.NewOrchestrator(conversation.Deps{
		LLM:         llm,
		Store:       session.NewStore(ctx, backend, logger),
		Synthesizer: synth,
		Notifier:    notifier,
		Audit:       bootstrap.BuildAuditService(ctx, cfg, res, logger),
		Profile:     profile,
		Policy:      bootstrap.BuildPolicy(cfg, profile),
	}, bootstrap.OrchestratorOptions(cfg, model), logger), nil
}

// run reads one patient line at a time and prints each reply. "quit" or EOF ends the session.
func run(ctx context.Context, svc conversation.Service, sessionID string, in io.Reader, out io.Writer) error {
	greeting, err := svc.Greet(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	sessionID = greeting.SessionID
	fmt.Fprintf(out, "session %s\n\nSarah: %s\n", sessionID, greeting.Text)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit", "bye":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		turn, err := svc.ProcessText(ctx, sessionID, line)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "[error] %v\n", err)
			continue
		}
		fmt.Fprintf(out, "Sarah: %s\n", turn.AssistantText)
		if turn.Intent == conversation.IntentBookAppointment {
			fmt.Fprintf(out, "[booked] %s on %s at %s with %s\n",
				turn.Metadata["service"], turn.Metadata["date"], turn.Metadata["time"], turn.Metadata["dentist"])
		}
	}
}
