package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"festival-platform/internal/metrics"
	"festival-platform/internal/models"
)

// Checkout outcomes reported by Confirm
const (
	OutcomeCommitted = "committed"
	OutcomePending   = "pending"
	OutcomeFailed    = "failed"
)

// IntentResult is returned to the browser when a payment starts
type IntentResult struct {
	Intent    *models.IntentHandle `json:"intent"`
	Quote     *Quote               `json:"quote"`
	AttemptID int                  `json:"attempt_id"`
}

// ConfirmResult describes what a confirmation did
type ConfirmResult struct {
	Outcome string                  `json:"outcome"`
	Commit  *models.CommitResult    `json:"commit,omitempty"`
	Attempt *models.CheckoutAttempt `json:"attempt"`
}

// ReconcileSummary counts what a reconciliation pass did
type ReconcileSummary struct {
	Checked   int `json:"checked"`
	Committed int `json:"committed"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
	Errors    int `json:"errors"`
}

// CheckoutOrchestrator drives a cart session through address collection,
// intent creation, gateway confirmation and commit
type CheckoutOrchestrator struct {
	pricing   *PricingAggregator
	gateways  *GatewayRegistry
	attempts  AttemptStore
	sessions  CartSessionStore
	flags     ReconciliationStore
	committer *Committer
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewCheckoutOrchestrator creates a new checkout orchestrator
func NewCheckoutOrchestrator(
	pricing *PricingAggregator,
	gateways *GatewayRegistry,
	attempts AttemptStore,
	sessions CartSessionStore,
	flags ReconciliationStore,
	committer *Committer,
	m *metrics.Metrics,
) *CheckoutOrchestrator {
	return &CheckoutOrchestrator{
		pricing:   pricing,
		gateways:  gateways,
		attempts:  attempts,
		sessions:  sessions,
		flags:     flags,
		committer: committer,
		metrics:   m,
		now:       time.Now,
	}
}

// SetAddress records the shipping address and moves the checkout to
// address_collected. Any open intent is dropped.
func (o *CheckoutOrchestrator) SetAddress(ctx context.Context, session *models.CartSession, address models.ShippingAddress) error {
	if !session.IsAuthenticated() {
		return fmt.Errorf("%w: sign in to check out", models.ErrUnauthorized)
	}
	if session.Cart.IsEmpty() {
		return models.ErrEmptyCart
	}
	if err := address.Validate(); err != nil {
		return err
	}

	reload := o.reloader(session.Token, session.UserID, session.UserEmail)
	return saveSession(ctx, o.sessions, session, reload, func(cs *models.CartSession) error {
		if cs.Cart.IsEmpty() {
			return models.ErrEmptyCart
		}
		if err := cs.Transition(models.CheckoutAddressCollected); err != nil {
			return err
		}
		cs.Checkout.Address = &address
		cs.Checkout.Intent = nil
		cs.Checkout.Error = ""
		return nil
	})
}

// reloader loads the stored copy of a session for a retried save. A copy
// that now belongs to another user is never adopted.
func (o *CheckoutOrchestrator) reloader(token string, userID int, email string) func(context.Context) (*models.CartSession, error) {
	return func(ctx context.Context) (*models.CartSession, error) {
		session, err := o.sessions.Load(ctx, token)
		if err != nil {
			return nil, err
		}
		if session.UserID != 0 && session.UserID != userID {
			return nil, fmt.Errorf("%w: session %s changed owner", models.ErrSessionChanged, token)
		}
		session.UserID = userID
		if email != "" {
			session.UserEmail = email
		}
		if session.Cart == nil {
			session.Cart = models.NewCart()
		}
		return session, nil
	}
}

// CreateIntent prices the cart and opens a gateway intent for exactly that
// total. The attempt is recorded so a webhook can confirm it later.
func (o *CheckoutOrchestrator) CreateIntent(ctx context.Context, session *models.CartSession, gatewayName string) (*IntentResult, error) {
	if !session.IsAuthenticated() {
		return nil, fmt.Errorf("%w: sign in to check out", models.ErrUnauthorized)
	}
	if session.Cart.IsEmpty() {
		return nil, models.ErrEmptyCart
	}
	if session.Checkout.Address == nil || !session.Checkout.State.CanTransitionTo(models.CheckoutIntentCreated) {
		return nil, fmt.Errorf("%w: cannot start payment from %s", models.ErrInvalidCheckoutState, session.Checkout.State)
	}
	for _, draft := range session.Cart.RegistrationDrafts() {
		if !draft.IsComplete() {
			return nil, fmt.Errorf("draft %s: %w", draft.DraftID, models.ErrRegistrationIncomplete)
		}
	}

	gateway, err := o.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	quote, err := o.pricing.Quote(ctx, session.UserID, session.Cart)
	if err != nil {
		return nil, err
	}
	if !quote.Total.IsPositive() {
		return nil, models.ErrEmptyOrZeroTotal
	}
	if err := o.pricing.CheckStock(ctx, session.Cart); err != nil {
		return nil, err
	}

	customerRef := session.UserEmail
	if customerRef == "" {
		customerRef = "user-" + strconv.Itoa(session.UserID)
	}

	start := o.now()
	handle, err := gateway.CreateIntent(ctx, quote.Total, quote.Currency, customerRef)
	o.metrics.GatewayCall(gateway.Name(), "create_intent", o.now().Sub(start))
	if err != nil {
		o.metrics.CheckoutOutcome(gateway.Name(), "intent_error")
		log.Printf("checkout: %s intent for user %d failed: %v", gateway.Name(), session.UserID, err)
		return nil, err
	}

	attempt := &models.CheckoutAttempt{
		SessionToken: session.Token,
		UserID:       session.UserID,
		Gateway:      gateway.Name(),
		IntentID:     handle.IntentID,
		Amount:       quote.Total,
		Currency:     quote.Currency,
		Status:       models.AttemptAwaiting,
	}
	if err := o.attempts.Create(ctx, attempt); err != nil {
		return nil, err
	}

	if err := session.Transition(models.CheckoutIntentCreated); err != nil {
		return nil, err
	}
	session.Checkout.Intent = handle
	session.Checkout.Error = ""
	if err := o.sessions.Save(ctx, session); err != nil {
		// The cart moved while the intent was opened; nobody can pay this one
		if uerr := o.attempts.UpdateStatus(ctx, attempt.ID, models.AttemptFailed, "cart changed while payment started"); uerr != nil {
			log.Printf("checkout: failed to close attempt %d: %v", attempt.ID, uerr)
		}
		return nil, fmt.Errorf("failed to save cart session: %w", err)
	}

	return &IntentResult{Intent: handle, Quote: quote, AttemptID: attempt.ID}, nil
}

// ConfirmSession confirms the intent currently held by session
func (o *CheckoutOrchestrator) ConfirmSession(ctx context.Context, session *models.CartSession) (*ConfirmResult, error) {
	intent := session.Checkout.Intent
	if intent == nil {
		return nil, fmt.Errorf("%w: no payment in progress", models.ErrInvalidCheckoutState)
	}
	attempt, err := o.attempts.GetByIntent(ctx, intent.Gateway, intent.IntentID)
	if err != nil {
		return nil, err
	}
	if attempt.SessionToken != session.Token {
		return nil, fmt.Errorf("%w: payment belongs to another session", models.ErrUnauthorized)
	}
	return o.confirmAttempt(ctx, attempt)
}

// Confirm asks the gateway about an intent and commits the cart when the
// captured amount matches a fresh quote. Calling it again for a committed
// attempt returns the earlier result.
func (o *CheckoutOrchestrator) Confirm(ctx context.Context, gatewayName, intentID string) (*ConfirmResult, error) {
	attempt, err := o.attempts.GetByIntent(ctx, gatewayName, intentID)
	if err != nil {
		return nil, err
	}
	return o.confirmAttempt(ctx, attempt)
}

func (o *CheckoutOrchestrator) confirmAttempt(ctx context.Context, attempt *models.CheckoutAttempt) (*ConfirmResult, error) {
	if done, err := finishedAttempt(attempt); done || err != nil {
		return alreadyCommitted(attempt), err
	}

	gateway, err := o.gateways.Get(attempt.Gateway)
	if err != nil {
		return nil, err
	}

	start := o.now()
	conf, err := gateway.Confirm(ctx, models.IntentHandle{
		Gateway:  attempt.Gateway,
		IntentID: attempt.IntentID,
		Amount:   attempt.Amount,
		Currency: attempt.Currency,
	})
	o.metrics.GatewayCall(attempt.Gateway, "confirm", o.now().Sub(start))
	if err != nil {
		return nil, err
	}

	switch conf.Status {
	case ConfirmationPending:
		o.updateSession(ctx, attempt, func(s *models.CartSession) error {
			return s.Transition(models.CheckoutAwaitingGateway)
		})
		o.metrics.CheckoutOutcome(attempt.Gateway, OutcomePending)
		return &ConfirmResult{Outcome: OutcomePending, Attempt: attempt}, nil

	case ConfirmationFailed:
		reason := conf.Reason
		if reason == "" {
			reason = "payment was declined"
		}
		if err := o.attempts.UpdateStatus(ctx, attempt.ID, models.AttemptFailed, reason); err != nil {
			return nil, err
		}
		attempt.Status = models.AttemptFailed
		attempt.FailureReason = reason
		o.updateSession(ctx, attempt, func(s *models.CartSession) error {
			if err := s.Transition(models.CheckoutFailed); err != nil {
				return err
			}
			s.Checkout.Error = reason
			return nil
		})
		o.metrics.CheckoutOutcome(attempt.Gateway, OutcomeFailed)
		log.Printf("checkout: %s declined attempt %d: %s", attempt.Gateway, attempt.ID, reason)
		return &ConfirmResult{Outcome: OutcomeFailed, Attempt: attempt}, &models.GatewayError{Gateway: attempt.Gateway, Reason: reason}

	case ConfirmationSucceeded:
		currency := conf.Currency
		if currency == "" {
			currency = attempt.Currency
		}
		return o.verifyAndCommit(ctx, attempt, conf.TransactionID, conf.Captured, currency)
	}

	return nil, fmt.Errorf("%s returned unknown confirmation status %q", attempt.Gateway, conf.Status)
}

// ConfirmManual records a payment received outside a card gateway, such as a
// bank transfer, and commits the attempt if the amount matches
func (o *CheckoutOrchestrator) ConfirmManual(ctx context.Context, attemptID int, reference string, received models.Money) (*ConfirmResult, error) {
	attempt, err := o.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Gateway != "manual" {
		return nil, fmt.Errorf("%w: attempt %d was paid through %s", models.ErrInvalidInput, attemptID, attempt.Gateway)
	}
	if strings.TrimSpace(reference) == "" {
		return nil, fmt.Errorf("%w: payment reference is required", models.ErrInvalidInput)
	}
	if done, err := finishedAttempt(attempt); done || err != nil {
		return alreadyCommitted(attempt), err
	}
	return o.verifyAndCommit(ctx, attempt, reference, received, attempt.Currency)
}

// finishedAttempt reports whether attempt needs no further work. Final
// statuses other than committed are an error.
func finishedAttempt(attempt *models.CheckoutAttempt) (bool, error) {
	if attempt.Status == models.AttemptCommitted {
		return true, nil
	}
	if attempt.Status.IsFinal() {
		return false, fmt.Errorf("checkout attempt %d is %s: %w", attempt.ID, attempt.Status, models.ErrInvalidCheckoutState)
	}
	return false, nil
}

func alreadyCommitted(attempt *models.CheckoutAttempt) *ConfirmResult {
	if attempt.Status != models.AttemptCommitted {
		return nil
	}
	commit := &models.CommitResult{AlreadyCommitted: true}
	if attempt.PaymentID != nil {
		commit.PaymentID = *attempt.PaymentID
	}
	return &ConfirmResult{Outcome: OutcomeCommitted, Commit: commit, Attempt: attempt}
}

// verifyAndCommit re-prices the session's cart, compares it with the captured
// amount and commits on an exact match. Captured funds that cannot be
// committed are flagged for manual reconciliation.
func (o *CheckoutOrchestrator) verifyAndCommit(ctx context.Context, attempt *models.CheckoutAttempt, transactionID string, captured models.Money, currency string) (*ConfirmResult, error) {
	session, err := o.sessions.Load(ctx, attempt.SessionToken)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return o.needsReconciliation(ctx, attempt, nil, transactionID, captured, currency, "cart session no longer exists", err)
		}
		return nil, err
	}
	if session.Checkout.Intent == nil || session.Checkout.Intent.IntentID != attempt.IntentID {
		return o.needsReconciliation(ctx, attempt, nil, transactionID, captured, currency, "cart changed after payment started",
			fmt.Errorf("%w: cart changed after payment started", models.ErrInvalidCheckoutState))
	}

	quote, err := o.pricing.Quote(ctx, attempt.UserID, session.Cart)
	if err != nil {
		return o.needsReconciliation(ctx, attempt, session, transactionID, captured, currency, err.Error(), err)
	}

	if !models.SameAmount(quote.Total, captured) || !strings.EqualFold(quote.Currency, currency) {
		log.Printf("SECURITY: amount mismatch on %s attempt %d (user %d, txn %s): captured %s %s, cart total %s %s",
			attempt.Gateway, attempt.ID, attempt.UserID, transactionID,
			models.FormatMoney(captured), currency, models.FormatMoney(quote.Total), quote.Currency)
		o.metrics.AmountMismatch(attempt.Gateway)

		reason := fmt.Sprintf("captured %s %s, expected %s %s", models.FormatMoney(captured), currency, models.FormatMoney(quote.Total), quote.Currency)
		if err := o.attempts.UpdateStatus(ctx, attempt.ID, models.AttemptAmountMismatch, reason); err != nil {
			log.Printf("checkout: failed to mark attempt %d mismatched: %v", attempt.ID, err)
		}
		attempt.Status = models.AttemptAmountMismatch
		attempt.FailureReason = reason
		o.raiseFlag(ctx, attempt, transactionID, captured, currency, "amount mismatch: "+reason)
		o.markSessionFailed(ctx, attempt, models.ErrAmountMismatch)
		return nil, fmt.Errorf("attempt %d: %w", attempt.ID, models.ErrAmountMismatch)
	}

	plan, err := o.committer.Plan(attempt, transactionID, captured, currency, quote, session.Checkout.Address)
	if err != nil {
		return o.needsReconciliation(ctx, attempt, session, transactionID, captured, currency, err.Error(), err)
	}

	result, err := o.committer.Commit(ctx, plan)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCheckoutState) {
			return nil, err
		}
		return o.needsReconciliation(ctx, attempt, session, transactionID, captured, currency, err.Error(), err)
	}

	attempt.Status = models.AttemptCommitted
	attempt.PaymentID = &result.PaymentID
	if !result.AlreadyCommitted {
		o.clearCommitted(ctx, attempt, session)
		o.metrics.CheckoutOutcome(attempt.Gateway, OutcomeCommitted)
		log.Printf("checkout: committed attempt %d for user %d, payment %d, %s %s",
			attempt.ID, attempt.UserID, result.PaymentID, models.FormatMoney(captured), currency)
	}

	return &ConfirmResult{Outcome: OutcomeCommitted, Commit: result, Attempt: attempt}, nil
}

// needsReconciliation flags captured funds that could not be committed and
// returns cause. A concurrent confirmation that already committed the attempt
// wins and is reported instead. session may be nil.
func (o *CheckoutOrchestrator) needsReconciliation(ctx context.Context, attempt *models.CheckoutAttempt, session *models.CartSession, transactionID string, captured models.Money, currency, reason string, cause error) (*ConfirmResult, error) {
	if latest, err := o.attempts.GetByID(ctx, attempt.ID); err == nil && latest.Status == models.AttemptCommitted {
		return alreadyCommitted(latest), nil
	}

	log.Printf("checkout: attempt %d captured %s %s on %s (txn %s) but could not commit: %s",
		attempt.ID, models.FormatMoney(captured), currency, attempt.Gateway, transactionID, reason)
	if err := o.attempts.UpdateStatus(ctx, attempt.ID, models.AttemptNeedsReconciliation, reason); err != nil {
		log.Printf("checkout: failed to mark attempt %d for reconciliation: %v", attempt.ID, err)
	}
	attempt.Status = models.AttemptNeedsReconciliation
	attempt.FailureReason = reason
	o.raiseFlag(ctx, attempt, transactionID, captured, currency, reason)
	if session != nil {
		o.markSessionFailed(ctx, attempt, cause)
	}
	o.metrics.CheckoutOutcome(attempt.Gateway, "needs_reconciliation")
	return nil, cause
}

func (o *CheckoutOrchestrator) raiseFlag(ctx context.Context, attempt *models.CheckoutAttempt, transactionID string, captured models.Money, currency, reason string) {
	flag := &models.ReconciliationFlag{
		AttemptID:     attempt.ID,
		Gateway:       attempt.Gateway,
		TransactionID: transactionID,
		Amount:        captured,
		Currency:      strings.ToUpper(currency),
		Reason:        reason,
	}
	if err := o.flags.Create(ctx, flag); err != nil {
		log.Printf("checkout: failed to record reconciliation flag for attempt %d: %v", attempt.ID, err)
	}
}

// clearCommitted removes the paid lines from the session. The session is
// reloaded if a request saved it after it was priced; lines added since then
// stay in the cart.
func (o *CheckoutOrchestrator) clearCommitted(ctx context.Context, attempt *models.CheckoutAttempt, session *models.CartSession) {
	paid := session.Cart.Keys()
	reload := o.reloader(session.Token, attempt.UserID, session.UserEmail)
	err := saveSession(ctx, o.sessions, session, reload, func(cs *models.CartSession) error {
		for _, key := range paid {
			cs.Cart.Delete(key)
		}
		cs.Checkout.Intent = nil
		cs.Checkout.Error = ""
		if cs.Cart.IsEmpty() {
			cs.Checkout.State = models.CheckoutCommitted
		} else {
			cs.ResetCheckout()
		}
		return nil
	})
	if err != nil {
		log.Printf("checkout: attempt %d committed but session %s was not cleared: %v", attempt.ID, session.Token, err)
	}
}

func (o *CheckoutOrchestrator) markSessionFailed(ctx context.Context, attempt *models.CheckoutAttempt, cause error) {
	o.updateSession(ctx, attempt, func(s *models.CartSession) error {
		if err := s.Transition(models.CheckoutFailed); err != nil {
			return err
		}
		s.Checkout.Intent = nil
		s.Checkout.Error = cause.Error()
		return nil
	})
}

var errIntentReplaced = errors.New("session no longer holds the intent")

// updateSession applies fn to the session owning attempt while it still
// holds the attempt's intent
func (o *CheckoutOrchestrator) updateSession(ctx context.Context, attempt *models.CheckoutAttempt, fn func(*models.CartSession) error) {
	session, err := o.sessions.Load(ctx, attempt.SessionToken)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Printf("checkout: failed to load session for attempt %d: %v", attempt.ID, err)
		}
		return
	}

	reload := o.reloader(session.Token, attempt.UserID, session.UserEmail)
	err = saveSession(ctx, o.sessions, session, reload, func(cs *models.CartSession) error {
		if cs.Checkout.Intent == nil || cs.Checkout.Intent.IntentID != attempt.IntentID {
			return errIntentReplaced
		}
		return fn(cs)
	})
	switch {
	case err == nil, errors.Is(err, errIntentReplaced), errors.Is(err, models.ErrInvalidCheckoutState):
	default:
		log.Printf("checkout: failed to update session %s for attempt %d: %v", session.Token, attempt.ID, err)
	}
}

// ReconcileAwaiting confirms attempts that have been awaiting the gateway
// for longer than olderThan, for buyers whose browser never came back.
// Manual attempts are skipped; they wait for an admin.
func (o *CheckoutOrchestrator) ReconcileAwaiting(ctx context.Context, olderThan time.Duration, limit int) (*ReconcileSummary, error) {
	attempts, err := o.attempts.ListAwaiting(ctx, o.now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}

	summary := &ReconcileSummary{}
	for _, attempt := range attempts {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if attempt.Gateway == "manual" {
			continue
		}
		summary.Checked++

		result, err := o.confirmAttempt(ctx, attempt)
		switch {
		case result != nil && result.Outcome == OutcomeCommitted:
			summary.Committed++
		case result != nil && result.Outcome == OutcomePending:
			summary.Pending++
		case result != nil && result.Outcome == OutcomeFailed:
			summary.Failed++
		case err != nil:
			summary.Errors++
			log.Printf("checkout: reconcile attempt %d: %v", attempt.ID, err)
		}
	}

	if summary.Checked > 0 {
		log.Printf("checkout: reconciled %d awaiting attempts (%d committed, %d pending, %d failed, %d errors)",
			summary.Checked, summary.Committed, summary.Pending, summary.Failed, summary.Errors)
	}
	return summary, nil
}

// OpenFlags lists unresolved reconciliation flags and refreshes the gauge
func (o *CheckoutOrchestrator) OpenFlags(ctx context.Context, limit, offset int) ([]*models.ReconciliationFlag, error) {
	flags, err := o.flags.ListOpen(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if offset == 0 && len(flags) < limit {
		o.metrics.SetOpenFlags(len(flags))
	}
	return flags, nil
}

// ResolveFlag marks a reconciliation flag handled
func (o *CheckoutOrchestrator) ResolveFlag(ctx context.Context, id int) error {
	return o.flags.Resolve(ctx, id)
}
