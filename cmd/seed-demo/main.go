package main

import (
	"context"
	"fmt"
	"time"

	"github.com/luminedu/examgate-backend/internal/config"
	"github.com/luminedu/examgate-backend/internal/database"
	"github.com/luminedu/examgate-backend/internal/logger"
	"github.com/luminedu/examgate-backend/internal/model"
	"github.com/luminedu/examgate-backend/internal/repository"
	"github.com/luminedu/examgate-backend/internal/service"
	"github.com/luminedu/examgate-backend/internal/shuffle"
)

// Seeds one active demo exam with 10 questions and prints tokens for manual
// testing against the student and admin APIs.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)
	authService := service.NewAuthService(cfg)

	fmt.Println("=== Seeding Demo Exam ===")

	now := time.Now()
	activeFrom := now.Add(-5 * time.Minute)
	activeTo := now.Add(2 * time.Hour)

	exam := &model.Exam{
		Title:             "Demo: Computer Networks Fundamentals",
		DurationMinutes:   60,
		IsActive:          true,
		ActiveFrom:        &activeFrom,
		ActiveTo:          &activeTo,
		ExtensionMinutes:  10,
		EntryGraceMinutes: 15,
		ShowScores:        true,
		ShuffleQuestions:  true,
		ShuffleOptions:    true,
		QuestionCount:     10,
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create demo exam")
	}
	fmt.Printf("Created exam: %s\n", exam.ID)

	for i := 1; i <= 10; i++ {
		q := &model.Question{
			ExamID: exam.ID,
			Prompt: fmt.Sprintf("Demo question %d: which option is correct?", i),
			Options: [shuffle.OptionCount]string{
				fmt.Sprintf("Correct answer for question %d", i),
				"Plausible distractor A",
				"Plausible distractor B",
				"Plausible distractor C",
			},
			CorrectIndex: 0,
			OrderNum:     i,
		}
		if err := examRepo.AddQuestion(ctx, q); err != nil {
			log.Fatal().Err(err).Msg("Failed to add question")
		}
	}
	fmt.Println("Added 10 questions")

	studentToken, err := authService.GenerateToken(1001, service.TokenTypeStudent)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate student token")
	}
	adminToken, err := authService.GenerateToken(1, service.TokenTypeAdmin)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate admin token")
	}

	fmt.Println()
	fmt.Println("=== Demo Credentials ===")
	fmt.Printf("Exam ID:        %s\n", exam.ID)
	fmt.Printf("Student token:  %s\n", studentToken)
	fmt.Printf("Admin token:    %s\n", adminToken)
	fmt.Println()
	fmt.Printf("Try: GET /api/v1/student/exams/%s/paper\n", exam.ID)
}
