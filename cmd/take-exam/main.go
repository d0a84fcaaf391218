package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/stemsi/examportal/internal/capture"
	"github.com/stemsi/examportal/internal/client"
	"github.com/stemsi/examportal/internal/logger"
	"github.com/stemsi/examportal/internal/response"
	"github.com/stemsi/examportal/internal/session"
	ws "github.com/stemsi/examportal/internal/websocket"
	"golang.org/x/term"
)

func main() {
	_ = godotenv.Load()

	var (
		server     string
		token      string
		examIDStr  string
		attemptStr string
		audioDir   string
		proctor    bool
		logLevel   string
	)
	flag.StringVar(&server, "server", envOr("EXAM_SERVER", "http://localhost:8080"), "API server root")
	flag.StringVar(&token, "token", os.Getenv("EXAM_TOKEN"), "Student bearer token")
	flag.StringVar(&examIDStr, "exam", "", "Exam id")
	flag.StringVar(&attemptStr, "attempt", "", "Resume a known attempt id")
	flag.StringVar(&audioDir, "audio-dir", "./takes", "Directory of audio files played back as recordings")
	flag.BoolVar(&proctor, "proctor", false, "Relay proctoring signals to the server")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (written to stderr)")
	flag.Parse()

	log := logger.New(os.Stderr, logLevel, "console")

	examID, err := uuid.Parse(examIDStr)
	if err != nil {
		log.Fatal().Str("exam", examIDStr).Msg("-exam must be a valid UUID")
	}

	opts := session.BootstrapOptions{}
	if attemptStr != "" {
		if opts.AttemptID, err = uuid.Parse(attemptStr); err != nil {
			log.Fatal().Str("attempt", attemptStr).Msg("-attempt must be a valid UUID")
		}
	} else {
		opts.AccessCode = promptAccessCode()
	}

	api := client.New(client.Config{BaseURL: server, Token: token, Logger: log})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boot, err := session.Bootstrap(ctx, api, examID, opts)
	for tries := 1; err != nil && tries < maxCodeAttempts && client.HasCode(err, response.ErrInvalidAccessCode); tries++ {
		fmt.Fprintln(os.Stderr, "Wrong access code.")
		opts.AccessCode = promptAccessCode()
		boot, err = session.Bootstrap(ctx, api, examID, opts)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot open the exam")
	}

	out := newConsole(os.Stdout)
	s := session.New(api, boot, session.Config{
		Device:   capture.NewFileDevice(audioDir),
		Observer: out,
		Logger:   log,
	})

	var link *client.ProctorLink
	if proctor {
		link, err = api.DialProctor(ctx, examID, boot.AttemptID)
		if err != nil {
			log.Warn().Err(err).Msg("Proctoring relay unavailable, continuing locally")
		} else {
			defer link.Close()
			go relayEvents(ctx, link, s, out)
		}
	}

	bus := &signals{local: s.Signal, remote: func(session.Signal) {}}
	if link != nil {
		bus.remote = func(sig session.Signal) {
			if err := link.Send(sig); err != nil {
				log.Debug().Err(err).Msg("Relay send failed")
			}
		}
	}

	// SIGINT/SIGTERM is closing the tab.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		out.Printf("\nLeaving the exam, submitting what you have...\n")
		if link != nil {
			_ = link.Send(session.Signal{Kind: session.SignalUnload, At: time.Now()})
		}
		s.Unload()
		cancel()
	}()

	// In strict mode a shrinking terminal counts as leaving fullscreen.
	if boot.Summary.StrictMode {
		go watchTerminalSize(ctx, bus.notify)
	}

	go s.Run(ctx)

	out.Printf("%s: %d questions, %d minutes. Type 'help' for commands.\n",
		boot.Summary.Title, boot.Summary.QuestionCount, boot.Summary.DurationMinutes)
	out.Question(s)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			out.Result(s.Result())
			return
		case line, ok := <-lines:
			if !ok {
				s.Unload()
				return
			}
			if err := run(ctx, s, bus, out, line); err != nil {
				if errors.Is(err, errQuit) {
					s.Unload()
					return
				}
				out.Printf("! %v\n", err)
			}
		}
	}
}

var errQuit = errors.New("quit")

// signals routes proctoring signals to the local session and, when
// connected, to the server-side monitor.
type signals struct {
	local  func(session.Signal)
	remote func(session.Signal)
}

func (b *signals) notify(kind session.SignalKind) {
	sig := session.Signal{Kind: kind, At: time.Now()}
	b.local(sig)
	b.remote(sig)
}

// relay sends a signal the session already raised on its own.
func (b *signals) relay(kind session.SignalKind) {
	b.remote(session.Signal{Kind: kind, At: time.Now()})
}

// run executes one console command.
func run(ctx context.Context, s *session.Session, bus *signals, out *console, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	num := func() (int, error) {
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return 0, fmt.Errorf("%s needs a number", cmd)
		}
		return n, nil
	}

	var err error
	switch cmd {
	case "":
		return nil
	case "help":
		out.Help()
		return nil
	case "n", "next":
		err = s.Next()
	case "p", "prev":
		err = s.Previous()
	case "g", "goto":
		var n int
		if n, err = num(); err == nil {
			err = s.GoTo(n - 1)
		}
	case "o", "option":
		var n int
		if n, err = num(); err == nil {
			err = s.SelectOption(n - 1)
		}
	case "t", "text":
		err = s.SetText(arg)
	case "r", "review":
		err = s.ToggleReview()
	case "mic":
		// OpenMicrophone raises prompt and grant locally
		bus.relay(session.SignalMicPrompt)
		err = s.OpenMicrophone(ctx)
		if err == nil {
			bus.relay(session.SignalMicGranted)
		}
	case "rec":
		err = s.StartRecording()
	case "stop":
		var take session.TakeRef
		if take, err = s.StopRecording(); err == nil {
			out.Printf("Recorded %s (%s)\n", take.ID, take.Duration.Round(time.Millisecond))
		}
	case "discard":
		var n int
		if n, err = num(); err == nil {
			err = s.DiscardTake(n - 1)
		}
	case "use":
		var n int
		if n, err = num(); err == nil {
			err = s.ActivateTake(n - 1)
		}
	case "away":
		bus.notify(session.SignalHidden)
		return nil
	case "back":
		bus.notify(session.SignalVisible)
		return nil
	case "dismiss":
		bus.notify(session.SignalBannerDismissed)
		return nil
	case "status":
		out.Status(s)
		return nil
	case "submit":
		var res *session.Result
		if res, err = s.Submit(ctx); err == nil {
			out.Result(res)
		}
		return err
	case "retry":
		var res *session.Result
		if res, err = s.Retry(ctx); err == nil {
			out.Result(res)
		}
		return err
	case "q", "quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	out.Question(s)
	return nil
}

// relayEvents prints server proctoring events and follows a server
// auto-submit instruction the local monitor missed.
func relayEvents(ctx context.Context, link *client.ProctorLink, s *session.Session, out *console) {
	for ev := range link.Events() {
		switch ev.Event {
		case ws.EventWarning:
			out.Printf("[proctor] warning %d/%d recorded by the server\n", ev.Violations, ev.Strikes)
		case ws.EventAutoSubmit:
			out.Printf("[proctor] server requested submission (%s)\n", ev.Trigger)
			if !s.Frozen() {
				_, _ = s.Submit(ctx)
			}
		case ws.EventError:
			out.Printf("[proctor] %s\n", ev.Error)
		}
	}
}

const maxCodeAttempts = 3

func promptAccessCode() string {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return os.Getenv("EXAM_ACCESS_CODE")
	}
	fmt.Fprint(os.Stderr, "Access code (empty if none): ")
	code, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(code))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
