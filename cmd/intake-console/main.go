// Package main provides a terminal console for the intake flow.
//
// It drives a consultation against a running backend: text turns,
// identity verification, prescription upload, and checkout, with the
// realtime pipeline trace streaming in the background.
//
// Usage:
//
//	go run ./cmd/intake-console
//
// Commands:
//
//	<text>                 Send a consultation message
//	/otp <phone>           Request a verification code
//	/verify <phone> <code> Verify the code
//	/rx <path>             Upload a prescription image
//	/checkout              Pay for the proposed order
//	/trace                 Show the pipeline trace
//	/speak on|off          Toggle spoken responses
//	q                      Quit
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/GhananilShirpurkar/medisync-intake/internal/config"
	"github.com/GhananilShirpurkar/medisync-intake/pkg/api"
	"github.com/GhananilShirpurkar/medisync-intake/pkg/intake/flows"
	"github.com/GhananilShirpurkar/medisync-intake/pkg/intake/store"
	"github.com/GhananilShirpurkar/medisync-intake/pkg/intake/trace"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	st := store.New(store.WithLogger(log))
	client := api.NewClient(cfg.Backend.BaseURL, api.WithLogger(log))
	orch := flows.New(client, st, log, flows.WithPollInterval(cfg.Payment.PollInterval))

	traceCh := trace.New(trace.Config{
		BaseURL:       cfg.Backend.BaseURL,
		ReconnectBase: cfg.Trace.ReconnectBase,
		MaxAttempts:   cfg.Trace.MaxAttempts,
	}, st, log)
	defer traceCh.Close()

	// Mirror transcript growth and ambience shifts to the terminal.
	printed := 0
	lastAmbient := store.AmbientBase
	unsubscribe := st.Subscribe(func(s store.State) {
		for ; printed < len(s.Messages); printed++ {
			m := s.Messages[printed]
			switch m.Sender {
			case store.SenderAI:
				fmt.Printf("assistant> %s\n", m.Text)
			case store.SenderSystem:
				fmt.Printf("[system] %s\n", m.Text)
			}
		}
		if s.Ambient != lastAmbient {
			lastAmbient = s.Ambient
			fmt.Printf("[ambience: %s]\n", s.Ambient)
		}
	})
	defer unsubscribe()

	if err := orch.StartConsultation(ctx); err != nil {
		log.Error().Err(err).Msg("could not start consultation")
	} else if sid := st.Get().SessionID; sid != "" {
		if err := traceCh.Open(ctx, sid); err != nil {
			log.Warn().Err(err).Msg("trace channel unavailable")
		}
	}

	fmt.Println("MediSync intake console. Type a message, or q to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "q" {
			return
		}
		if ctx.Err() != nil {
			return
		}

		handleCommand(ctx, line, orch, st)
	}
}

func handleCommand(ctx context.Context, line string, orch *flows.Orchestrator, st *store.Store) {
	fields := strings.Fields(line)

	switch fields[0] {
	case "/otp":
		if len(fields) != 2 {
			fmt.Println("usage: /otp <phone>")
			return
		}
		if err := orch.SendOTP(ctx, fields[1]); err == nil {
			fmt.Println("[code sent]")
		}

	case "/verify":
		if len(fields) != 3 {
			fmt.Println("usage: /verify <phone> <code>")
			return
		}
		ok, err := orch.VerifyOTP(ctx, fields[1], fields[2])
		if err == nil && !ok {
			fmt.Println("[verification failed]")
		}

	case "/rx":
		if len(fields) != 2 {
			fmt.Println("usage: /rx <path>")
			return
		}
		image, err := os.ReadFile(fields[1])
		if err != nil {
			fmt.Println("read:", err)
			return
		}
		_ = orch.UploadPrescription(ctx, image, "image/jpeg")

	case "/checkout":
		if !st.Get().CheckoutReady {
			fmt.Println("[nothing to check out yet]")
			return
		}
		init, err := orch.Checkout(ctx)
		if err != nil {
			return
		}
		fmt.Printf("[scan to pay: %s]\n", init.QRCodeData)
		if status, err := orch.PollPayment(ctx, init.PaymentID); err == nil {
			fmt.Printf("[payment %s]\n", status)
		}

	case "/speak":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			fmt.Println("usage: /speak on|off")
			return
		}
		st.Dispatch(store.VoiceResponseToggled{Enabled: fields[1] == "on"})

	case "/trace":
		for _, ts := range st.Get().DisplayTrace() {
			fmt.Printf("  %-16s %-20s %s\n", ts.Agent, ts.Step, ts.Status)
		}

	default:
		_ = orch.SendMessage(ctx, line)
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var w = os.Stderr
	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
