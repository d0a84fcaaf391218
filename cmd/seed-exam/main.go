package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"syscall"

	"github.com/stemsi/examportal/internal/config"
	"github.com/stemsi/examportal/internal/database"
	"github.com/stemsi/examportal/internal/logger"
	"github.com/stemsi/examportal/internal/model"
	"github.com/stemsi/examportal/internal/repository"
	"github.com/stemsi/examportal/internal/service"
	"github.com/stemsi/examportal/internal/validator"
	"golang.org/x/term"
)

func main() {
	var (
		file       string
		accessCode bool
		studentID  int
		facultyID  int
	)
	flag.StringVar(&file, "file", "", "Exam definition JSON (authoring output)")
	flag.BoolVar(&accessCode, "access-code", false, "Prompt for an access code students must enter")
	flag.IntVar(&studentID, "student-token", 0, "Also print a dev token for this student id")
	flag.IntVar(&facultyID, "faculty-token", 0, "Also print a dev token for this faculty id")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	if file == "" {
		fmt.Fprintln(os.Stderr, "Usage: seed-exam -file exam.json [-access-code] [-student-token id] [-faculty-token id]")
		os.Exit(2)
	}

	// ─── Load & Validate Definition ────────────────────────────────────
	raw, err := os.ReadFile(file)
	if err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("Failed to read definition")
	}

	var def model.ExamDefinition
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		log.Fatal().Err(err).Msg("Definition is not valid JSON")
	}

	if fields := validator.ValidateExamDefinition(&def); fields != nil {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(os.Stderr, "Definition is invalid:")
		for _, k := range keys {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", k, fields[k])
		}
		os.Exit(1)
	}

	authService := service.NewAuthService(cfg)

	// ─── Access Code ───────────────────────────────────────────────────
	var accessCodeHash string
	if accessCode {
		fmt.Fprint(os.Stderr, "Enter Access Code: ")
		code, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read access code")
		}
		if len(code) < 4 {
			log.Fatal().Msg("Access code must be at least 4 characters")
		}
		if accessCodeHash, err = authService.HashSecret(string(code)); err != nil {
			log.Fatal().Err(err).Msg("Failed to hash access code")
		}
	}

	ctx := context.Background()

	// ─── Connect ───────────────────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	examService := service.NewExamService(
		repository.NewExamRepository(pool),
		repository.NewQuestionRepository(pool),
		repository.NewCacheRepository(rdb),
		log,
	)

	// ─── Store & Warm Cache ────────────────────────────────────────────
	exam, err := examService.CreateFromDefinition(ctx, &def, accessCodeHash)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	fmt.Printf("Exam '%s' created with ID: %s (%d questions)\n", exam.Title, exam.ID, len(def.Questions))

	if studentID > 0 {
		token, err := authService.GenerateStudentToken(studentID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to issue student token")
		}
		fmt.Printf("Student %d token: %s\n", studentID, token)
	}
	if facultyID > 0 {
		token, err := authService.GenerateFacultyToken(facultyID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to issue faculty token")
		}
		fmt.Printf("Faculty %d token: %s\n", facultyID, token)
	}
}
