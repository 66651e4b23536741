// Package app contains the session engine: the state machine that starts,
// drives and finalizes practice and interview sessions, delegating scoring
// to evaluate, question drawing to selector, credit gating to the ledger and
// access decisions to the visibility resolver.
package app

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"prep-session-service/internal/domain"
	"prep-session-service/internal/evaluate"
	"prep-session-service/internal/selector"
)

// SessionStore persists sessions. FindActive backs the single-active-session
// rule for a (user, assignment) pair.
type SessionStore interface {
	Save(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, id string) (domain.Session, error)
	FindActive(ctx context.Context, userID, assignmentID string) (domain.Session, bool, error)
}

// AnswerStore persists evaluated answers. RecentQuestionIDs feeds the
// interview reuse-cooldown exclusion list handed to the selector.
type AnswerStore interface {
	Save(ctx context.Context, answer domain.Answer) error
	Get(ctx context.Context, sessionID, questionID string) (domain.Answer, bool, error)
	BySession(ctx context.Context, sessionID string) ([]domain.Answer, error)
	RecentQuestionIDs(ctx context.Context, userID string, since time.Time) ([]string, error)
}

// AssignmentStore is read-only access to assignments and their templates.
type AssignmentStore interface {
	Assignment(ctx context.Context, id string) (domain.Assignment, error)
	Template(ctx context.Context, id string) (domain.Template, error)
}

// QuestionLookup resolves a session's question ids back to content at
// evaluation time.
type QuestionLookup interface {
	Question(ctx context.Context, id string) (domain.Question, error)
}

// EligibilityResolver authorizes a start; implemented by visibility.Resolver.
type EligibilityResolver interface {
	Check(ctx context.Context, userID string, assignment domain.Assignment) error
}

// CreditLedger is the slice of the ledger the engine needs: the serialized
// debit, plus a refund path for the one case where the engine itself unwinds
// a debit (question selection failing after a successful consume).
type CreditLedger interface {
	Consume(ctx context.Context, userID string, credits int, interviewSessionID, description string) (domain.LedgerEntry, error)
	Refund(ctx context.Context, userID string, credits int, interviewSessionID, description string) (domain.LedgerEntry, error)
}

// CertificateIssuer receives the one-way eligibility signal for completed
// certification interviews. Implementations must not block; the engine never
// waits on the result.
type CertificateIssuer interface {
	SessionEligible(signal domain.CertificateSignal)
}

// Event is one state change pushed to session watchers.
type Event struct {
	Session domain.Session `json:"session"`
	Answer  *domain.Answer `json:"answer,omitempty"`
}

// StartResult is the outcome of a start: the created (or resumed) session
// and any per-type shortfall the caller may choose to reject.
type StartResult struct {
	Session      domain.Session
	Resumed      bool
	ShortSingle  int
	ShortMulti   int
	ShortWritten int
}

// AnswerPayload is the raw submission before evaluation.
type AnswerPayload struct {
	SelectedOptionIDs []string `json:"selectedOptionIds,omitempty"`
	GivenText         string   `json:"givenText,omitempty"`
}

// Snapshot is a session with its answers, as returned by Get.
type Snapshot struct {
	Session domain.Session  `json:"session"`
	Answers []domain.Answer `json:"answers"`
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Sessions     SessionStore
	Answers      AnswerStore
	Assignments  AssignmentStore
	Questions    QuestionLookup
	Selector     *selector.Selector
	Eligibility  EligibilityResolver
	Credits      CreditLedger
	Certificates CertificateIssuer
}

// Options tunes engine behavior; zero values fall back to defaults.
type Options struct {
	Now func() time.Time
	// ReuseCooldown excludes questions the user answered within this window
	// from interview draws. Zero disables the exclusion.
	ReuseCooldown time.Duration
	// WrittenThreshold overrides the default written-answer pass mark for
	// templates that don't set their own.
	WrittenThreshold float64
}

// Engine drives the session lifecycle. All mutations of a session go through
// here; the request-driven design has no background scheduler, so timer
// expiry is re-evaluated lazily on every access.
type Engine struct {
	deps Deps
	now  func() time.Time

	reuseCooldown    time.Duration
	writtenThreshold float64

	mu         sync.Mutex
	startLocks map[string]*sync.Mutex
	sessLocks  map[string]*sync.Mutex

	watchMu  sync.Mutex
	watchers map[string]map[chan Event]struct{}
}

func New(deps Deps, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	threshold := opts.WrittenThreshold
	if threshold <= 0 {
		threshold = evaluate.DefaultWrittenThreshold
	}
	return &Engine{
		deps:             deps,
		now:              now,
		reuseCooldown:    opts.ReuseCooldown,
		writtenThreshold: threshold,
		startLocks:       make(map[string]*sync.Mutex),
		sessLocks:        make(map[string]*sync.Mutex),
		watchers:         make(map[string]map[chan Event]struct{}),
	}
}

// adHocTemplate governs sessions started from raw criteria with no
// assignment: untimed, free navigation, immediate-feedback overwrites.
func (e *Engine) adHocTemplate(criteria domain.SelectionCriteria) domain.Template {
	return domain.Template{
		Criteria:         criteria,
		Navigation:       domain.NavigationFree,
		AllowPause:       true,
		AllowOverwrite:   true,
		WrittenThreshold: e.writtenThreshold,
	}
}

// StartPractice starts a practice session for an assignment. Practice is
// free: visibility still applies, credits do not.
func (e *Engine) StartPractice(ctx context.Context, userID, assignmentID string) (StartResult, error) {
	assignment, template, err := e.loadAssignment(ctx, assignmentID)
	if err != nil {
		return StartResult{}, err
	}
	return e.start(ctx, userID, assignment, template, domain.KindPractice)
}

// StartAdHocPractice starts a practice session straight from selection
// criteria, with no assignment behind it.
func (e *Engine) StartAdHocPractice(ctx context.Context, userID string, criteria domain.SelectionCriteria) (StartResult, error) {
	template := e.adHocTemplate(criteria)
	return e.start(ctx, userID, domain.Assignment{}, template, domain.KindPractice)
}

// StartInterview starts a credit-gated interview session. The debit happens
// exactly once, before question generation, and is not refunded if the
// session is later abandoned or expires.
func (e *Engine) StartInterview(ctx context.Context, userID, assignmentID string) (StartResult, error) {
	assignment, template, err := e.loadAssignment(ctx, assignmentID)
	if err != nil {
		return StartResult{}, err
	}
	return e.start(ctx, userID, assignment, template, domain.KindInterview)
}

func (e *Engine) loadAssignment(ctx context.Context, assignmentID string) (domain.Assignment, domain.Template, error) {
	assignment, err := e.deps.Assignments.Assignment(ctx, assignmentID)
	if err != nil {
		return domain.Assignment{}, domain.Template{}, err
	}
	template, err := e.deps.Assignments.Template(ctx, assignment.TemplateID)
	if err != nil {
		return domain.Assignment{}, domain.Template{}, err
	}
	return assignment, template, nil
}

func (e *Engine) start(ctx context.Context, userID string, assignment domain.Assignment, template domain.Template, kind domain.SessionKind) (StartResult, error) {
	// One start at a time per (user, assignment): concurrent starts from two
	// devices resolve to the same session instead of creating duplicates.
	lock := e.lockFor(e.startLocks, userID+"/"+assignment.ID)
	lock.Lock()
	defer lock.Unlock()

	if assignment.ID != "" {
		existing, ok, err := e.deps.Sessions.FindActive(ctx, userID, assignment.ID)
		if err != nil {
			return StartResult{}, err
		}
		if ok {
			return StartResult{Session: existing, Resumed: true}, nil
		}

		if err := e.deps.Eligibility.Check(ctx, userID, assignment); err != nil {
			return StartResult{}, err
		}
	}

	sessionID := uuid.New().String()

	debited := 0
	if kind == domain.KindInterview && template.InterviewCost > 0 {
		if _, err := e.deps.Credits.Consume(ctx, userID, template.InterviewCost, sessionID, "interview start"); err != nil {
			return StartResult{}, err
		}
		debited = template.InterviewCost
	}

	var excludeIDs []string
	if kind == domain.KindInterview && e.reuseCooldown > 0 {
		recent, err := e.deps.Answers.RecentQuestionIDs(ctx, userID, e.now().Add(-e.reuseCooldown))
		if err != nil {
			return StartResult{}, e.unwindDebit(ctx, userID, debited, sessionID, err)
		}
		excludeIDs = recent
	}

	selection, err := e.deps.Selector.Select(ctx, template.Criteria, excludeIDs)
	if err != nil {
		return StartResult{}, e.unwindDebit(ctx, userID, debited, sessionID, err)
	}

	session := domain.Session{
		ID:           sessionID,
		UserID:       userID,
		AssignmentID: assignment.ID,
		TemplateID:   template.ID,
		Kind:         kind,
		Status:       domain.StatusInProgress,
		StartedAt:    e.now(),
		QuestionIDs:  selection.QuestionIDs(),
	}
	if err := e.deps.Sessions.Save(ctx, session); err != nil {
		return StartResult{}, e.unwindDebit(ctx, userID, debited, sessionID, err)
	}

	e.publish(session, nil)
	return StartResult{
		Session:      session,
		ShortSingle:  selection.ShortSingle,
		ShortMulti:   selection.ShortMulti,
		ShortWritten: selection.ShortWritten,
	}, nil
}

// unwindDebit appends a refund when session creation fails after the credit
// was already consumed, then returns the original error. This is the only
// automatic refund in the engine; abandonment never refunds.
func (e *Engine) unwindDebit(ctx context.Context, userID string, debited int, sessionID string, cause error) error {
	if debited <= 0 {
		return cause
	}
	if _, err := e.deps.Credits.Refund(ctx, userID, debited, sessionID, "session creation failed"); err != nil {
		log.Printf("refund after failed start %s: %v", sessionID, err)
	}
	return cause
}

// SubmitAnswer evaluates and records one answer. Only legal while the
// session is in progress; the target question must be the current one in
// linear mode or any unanswered one in free mode.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, questionID string, payload AnswerPayload, timeSpentSec int) (domain.Answer, domain.Session, error) {
	lock := e.lockFor(e.sessLocks, sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, template, err := e.loadForUpdate(ctx, sessionID)
	if err != nil {
		return domain.Answer{}, session, err
	}
	if session.Status != domain.StatusInProgress {
		return domain.Answer{}, session, domain.ErrInvalidStateTransition
	}

	idx := indexOf(session.QuestionIDs, questionID)
	if idx < 0 {
		return domain.Answer{}, session, domain.ErrQuestionNotFound
	}
	if template.Navigation != domain.NavigationFree && idx != session.CurrentIndex {
		// Stale or out-of-order submission; never silently overwrite state.
		return domain.Answer{}, session, domain.ErrInvalidStateTransition
	}

	previous, answered, err := e.deps.Answers.Get(ctx, sessionID, questionID)
	if err != nil {
		return domain.Answer{}, session, err
	}
	if answered && !template.AllowOverwrite {
		return domain.Answer{}, session, domain.ErrAnswerAlreadyRecorded
	}

	question, err := e.deps.Questions.Question(ctx, questionID)
	if err != nil {
		return domain.Answer{}, session, err
	}

	answer := e.evaluate(question, payload, template)
	answer.SessionID = sessionID
	answer.QuestionID = questionID
	answer.TimeSpentSec = timeSpentSec
	answer.AnsweredAt = e.now()

	if err := e.deps.Answers.Save(ctx, answer); err != nil {
		return domain.Answer{}, session, err
	}

	session.TotalScore += answer.Score
	if answered {
		session.TotalScore -= previous.Score
	}
	session.TotalTimeSec += timeSpentSec
	if err := e.advanceIndex(ctx, &session); err != nil {
		return answer, session, err
	}
	if err := e.deps.Sessions.Save(ctx, session); err != nil {
		return answer, session, err
	}

	e.publish(session, &answer)
	return answer, session, nil
}

func (e *Engine) evaluate(question domain.Question, payload AnswerPayload, template domain.Template) domain.Answer {
	answer := domain.Answer{
		SelectedOptionIDs: payload.SelectedOptionIDs,
		GivenText:         payload.GivenText,
	}
	switch question.Type {
	case domain.QuestionSingleChoice:
		correct := evaluate.SingleChoice(question, payload.SelectedOptionIDs)
		answer.IsCorrect = &correct
		if correct {
			answer.Score = 1
		}
	case domain.QuestionMultiChoice:
		correct := evaluate.MultiChoice(question, payload.SelectedOptionIDs)
		answer.IsCorrect = &correct
		if correct {
			answer.Score = 1
		}
	case domain.QuestionWritten:
		threshold := template.WrittenThreshold
		if threshold <= 0 {
			threshold = e.writtenThreshold
		}
		pct, correct := evaluate.Written(question, payload.GivenText, threshold)
		answer.MatchPercent = &pct
		answer.IsCorrect = &correct
		answer.Score = pct / 100
	}
	return answer
}

// advanceIndex moves the cursor to the first unanswered question at or after
// the current one, so free-mode answers out of order don't strand the cursor.
func (e *Engine) advanceIndex(ctx context.Context, session *domain.Session) error {
	answers, err := e.deps.Answers.BySession(ctx, session.ID)
	if err != nil {
		return err
	}
	answered := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		answered[a.QuestionID] = struct{}{}
	}
	for i := session.CurrentIndex; i < len(session.QuestionIDs); i++ {
		if _, ok := answered[session.QuestionIDs[i]]; !ok {
			session.CurrentIndex = i
			return nil
		}
	}
	session.CurrentIndex = len(session.QuestionIDs)
	return nil
}

// Pause freezes a session's time accumulation. Only legal when the template
// allows pausing and the session is in progress.
func (e *Engine) Pause(ctx context.Context, sessionID string) (domain.Session, error) {
	lock := e.lockFor(e.sessLocks, sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, template, err := e.loadForUpdate(ctx, sessionID)
	if err != nil {
		return session, err
	}
	if !template.AllowPause || session.Status != domain.StatusInProgress {
		return session, domain.ErrInvalidStateTransition
	}

	now := e.now()
	session.Status = domain.StatusPaused
	session.PausedAt = &now
	if err := e.deps.Sessions.Save(ctx, session); err != nil {
		return session, err
	}
	e.publish(session, nil)
	return session, nil
}

// Resume returns a paused session to progress. The time spent paused extends
// any total-time budget, so pausing never costs the candidate time.
func (e *Engine) Resume(ctx context.Context, sessionID string) (domain.Session, error) {
	lock := e.lockFor(e.sessLocks, sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := e.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return session, err
	}
	if session.Status != domain.StatusPaused || session.PausedAt == nil {
		return session, domain.ErrInvalidStateTransition
	}

	now := e.now()
	session.PausedSec += int(now.Sub(*session.PausedAt) / time.Second)
	session.PausedAt = nil
	session.Status = domain.StatusInProgress
	if err := e.deps.Sessions.Save(ctx, session); err != nil {
		return session, err
	}
	e.publish(session, nil)
	return session, nil
}

// Finish completes an in-progress session: the total score is recomputed
// from the recorded answers and, for certification-enabled interviews, the
// certificate issuer is signalled.
func (e *Engine) Finish(ctx context.Context, sessionID string) (domain.Session, error) {
	lock := e.lockFor(e.sessLocks, sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, template, err := e.loadForUpdate(ctx, sessionID)
	if err != nil {
		return session, err
	}
	if session.Status != domain.StatusInProgress {
		return session, domain.ErrInvalidStateTransition
	}
	return e.finalize(ctx, session, template, domain.StatusCompleted)
}

// Abandon terminates a session without scoring credit back; exposed for the
// administrative surface. No refund is appended.
func (e *Engine) Abandon(ctx context.Context, sessionID string) (domain.Session, error) {
	lock := e.lockFor(e.sessLocks, sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := e.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return session, err
	}
	if session.Status != domain.StatusInProgress && session.Status != domain.StatusPaused {
		return session, domain.ErrInvalidStateTransition
	}

	now := e.now()
	session.Status = domain.StatusAbandoned
	session.FinishedAt = &now
	if err := e.deps.Sessions.Save(ctx, session); err != nil {
		return session, err
	}
	e.publish(session, nil)
	return session, nil
}

// Retake starts a fresh session for the assignment of a finished one.
// Eligibility is re-checked (the previous completion may have exhausted the
// attempt cap or armed the cooldown) and interviews are debited again.
func (e *Engine) Retake(ctx context.Context, sessionID string) (StartResult, error) {
	session, err := e.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return StartResult{}, err
	}
	if !session.Status.Terminal() {
		return StartResult{}, domain.ErrInvalidStateTransition
	}
	if session.AssignmentID == "" {
		return StartResult{}, domain.ErrAssignmentNotFound
	}

	assignment, template, err := e.loadAssignment(ctx, session.AssignmentID)
	if err != nil {
		return StartResult{}, err
	}
	return e.start(ctx, session.UserID, assignment, template, session.Kind)
}

// Get returns the session with its answers. Lazy expiry applies: reading an
// overdue session finalizes it first.
func (e *Engine) Get(ctx context.Context, sessionID string) (Snapshot, error) {
	lock := e.lockFor(e.sessLocks, sessionID)
	lock.Lock()

	session, _, err := e.loadForUpdate(ctx, sessionID)
	lock.Unlock()
	if err != nil && !errors.Is(err, domain.ErrSessionExpired) {
		return Snapshot{}, err
	}

	answers, answersErr := e.deps.Answers.BySession(ctx, sessionID)
	if answersErr != nil {
		return Snapshot{}, answersErr
	}
	// err is either nil or ErrSessionExpired; the caller gets the finalized
	// session either way.
	return Snapshot{Session: session, Answers: answers}, err
}

// loadForUpdate fetches the session and its template and applies the lazy
// timer-expiry check: an overdue in-progress session is finalized on the
// spot and ErrSessionExpired returned alongside the finalized state.
func (e *Engine) loadForUpdate(ctx context.Context, sessionID string) (domain.Session, domain.Template, error) {
	session, err := e.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.Session{}, domain.Template{}, err
	}
	template, err := e.templateFor(ctx, session)
	if err != nil {
		return session, domain.Template{}, err
	}

	if session.Status == domain.StatusInProgress {
		if deadline, ok := e.deadline(session, template); ok && !e.now().Before(deadline) {
			finalized, ferr := e.finalize(ctx, session, template, domain.StatusExpired)
			if ferr != nil {
				return session, template, ferr
			}
			return finalized, template, domain.ErrSessionExpired
		}
	}
	return session, template, nil
}

func (e *Engine) templateFor(ctx context.Context, session domain.Session) (domain.Template, error) {
	if session.TemplateID == "" {
		return e.adHocTemplate(domain.SelectionCriteria{}), nil
	}
	return e.deps.Assignments.Template(ctx, session.TemplateID)
}

// deadline computes the wall-clock moment the session runs out of time.
// Paused seconds extend the deadline; a session with no budget has none.
func (e *Engine) deadline(session domain.Session, template domain.Template) (time.Time, bool) {
	budget := template.TotalSec
	if budget <= 0 && template.PerQuestionSec > 0 {
		budget = template.PerQuestionSec * len(session.QuestionIDs)
	}
	if budget <= 0 {
		return time.Time{}, false
	}
	return session.StartedAt.Add(time.Duration(budget+session.PausedSec) * time.Second), true
}

// finalize moves a session into a terminal state, recomputes the score from
// the recorded answers, and fires the certificate signal when due.
func (e *Engine) finalize(ctx context.Context, session domain.Session, template domain.Template, status domain.SessionStatus) (domain.Session, error) {
	answers, err := e.deps.Answers.BySession(ctx, session.ID)
	if err != nil {
		return session, err
	}
	total := 0.0
	for _, a := range answers {
		total += a.Score
	}

	now := e.now()
	session.Status = status
	session.TotalScore = total
	session.SubmittedAt = &now
	session.FinishedAt = &now
	if err := e.deps.Sessions.Save(ctx, session); err != nil {
		return session, err
	}

	if session.Kind == domain.KindInterview && template.CertificationEnabled && e.deps.Certificates != nil {
		e.deps.Certificates.SessionEligible(domain.CertificateSignal{
			SessionID:  session.ID,
			UserID:     session.UserID,
			TotalScore: total,
		})
	}

	e.publish(session, nil)
	return session, nil
}

func (e *Engine) lockFor(locks map[string]*sync.Mutex, key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := locks[key]
	if !ok {
		lock = &sync.Mutex{}
		locks[key] = lock
	}
	return lock
}

func indexOf(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}
