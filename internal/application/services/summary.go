package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aescanero/reactor/internal/application/orchestrator"
	"github.com/aescanero/reactor/pkg/events"
	"github.com/aescanero/reactor/pkg/lifecycle"
	"github.com/aescanero/reactor/pkg/ports"
)

const assessmentsCollection = "user_assessments"

// NoAssessmentsSummary is stored when a user has no assessments to
// summarize.
const NoAssessmentsSummary = "Not enough information to generate a summary. Please complete some assessments."

// Assessment is one completed assessment of a user.
type Assessment struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Type    string `json:"assessment_type"`
	Summary string `json:"assessment_summary"`
}

// SummaryService generates profile summaries with the LLM
type SummaryService struct {
	*lifecycle.Lifecycle

	profiles     *ProfileService
	persistence  ports.PersistenceProvider
	llm          ports.LlmProvider
	orchestrator *orchestrator.Manager
	logger       *zap.Logger
}

// NewSummaryService creates a new summary service
func NewSummaryService(
	profiles *ProfileService,
	persistence ports.PersistenceProvider,
	llm ports.LlmProvider,
	orch *orchestrator.Manager,
	logger *zap.Logger,
) *SummaryService {
	s := &SummaryService{
		profiles:     profiles,
		persistence:  persistence,
		llm:          llm,
		orchestrator: orch,
		logger:       logger,
	}
	s.Lifecycle = lifecycle.New("summary_service", s, lifecycle.WithLogger(logger))
	s.DependOn(orch, profiles)
	return s
}

func (s *SummaryService) OnInitialize(ctx context.Context, _ ...any) error {
	const name = "generate_profile_summary"
	if err := s.orchestrator.RegisterActions(events.UserProfileGenerateSummary, orchestrator.Action{
		Name: name,
		Run:  s.generateOnRequest,
	}); err != nil {
		return err
	}
	s.Track(func() { s.orchestrator.UnregisterActions(events.UserProfileGenerateSummary, name) })
	return nil
}

// Generate summarizes the assessments of userID, stores the summary on the
// profile and returns it.
func (s *SummaryService) Generate(ctx context.Context, userID string) (string, error) {
	rows, err := s.persistence.Fetch(ctx, assessmentsCollection, ports.Filter{"user_id": userID})
	if err != nil {
		return "", fmt.Errorf("failed to fetch assessments: %w", err)
	}

	summary := NoAssessmentsSummary
	if len(rows) > 0 {
		var prompt strings.Builder
		prompt.WriteString("Personality test results:")
		for _, row := range rows {
			a, err := decode[Assessment](row)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&prompt, "\n - %s: %s", a.Type, a.Summary)
		}

		summary, err = s.llm.Chat(ctx, []ports.Message{
			{Role: ports.RoleSystem, Content: "Write a short profile summary from the assessment results."},
			{Role: ports.RoleUser, Content: prompt.String()},
		})
		if err != nil {
			return "", fmt.Errorf("failed to generate summary: %w", err)
		}
	}

	if err := s.profiles.SetSummary(ctx, userID, summary); err != nil {
		return "", err
	}

	s.logger.Info("profile summary generated",
		zap.String("user_id", userID),
		zap.Int("assessments", len(rows)))
	return summary, nil
}

func (s *SummaryService) generateOnRequest(ctx context.Context, payload any) error {
	req, err := decode[SummaryRequest](payload)
	if err != nil {
		return err
	}
	userID := req.UserID
	if userID == "" {
		var ok bool
		if userID, ok = s.profiles.auth.CurrentUserID(); !ok {
			return ErrNotSignedIn
		}
	}
	_, err = s.Generate(ctx, userID)
	return err
}
