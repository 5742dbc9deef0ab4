package subscription_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/aigensolutions/billingcore/pkg/billing"
	"github.com/aigensolutions/billingcore/pkg/ledger"
	"github.com/aigensolutions/billingcore/pkg/plan"
	"github.com/aigensolutions/billingcore/pkg/subscription"
	"github.com/aigensolutions/billingcore/pkg/webhookguard"
)

// memSubStore is an in-memory subscription.Store. InTx serializes on one
// mutex like the pg store's transaction does.
type memSubStore struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*subscription.Subscription
}

func newMemSubStore(subs ...*subscription.Subscription) *memSubStore {
	s := &memSubStore{subs: make(map[uuid.UUID]*subscription.Subscription)}
	for _, sub := range subs {
		cp := *sub
		s.subs[sub.ID] = &cp
	}
	return s
}

func (s *memSubStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx)
}

func (s *memSubStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *memSubStore) GetByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	sub, ok := s.subs[id]
	if !ok {
		return nil, subscription.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *memSubStore) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, error) {
	var latest *subscription.Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID && sub.IsActive {
			if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
				latest = sub
			}
		}
	}
	if latest == nil {
		return nil, subscription.ErrSubscriptionNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *memSubStore) GetByProviderSubID(ctx context.Context, providerSubID string) (*subscription.Subscription, error) {
	for _, sub := range s.subs {
		if sub.ProviderSubscriptionID == providerSubID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, subscription.ErrSubscriptionNotFound
}

func (s *memSubStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	if _, ok := s.subs[sub.ID]; !ok {
		return subscription.ErrSubscriptionNotFound
	}
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *memSubStore) DeactivateForUser(ctx context.Context, userID uuid.UUID) error {
	for _, sub := range s.subs {
		if sub.UserID == userID {
			sub.IsActive = false
		}
	}
	return nil
}

// recordingLedger records credit grants for assertions.
type recordingLedger struct {
	mu      sync.Mutex
	credits []ledger.CreditParams
}

func (l *recordingLedger) Credit(ctx context.Context, params ledger.CreditParams) (*ledger.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credits = append(l.credits, params)
	return &ledger.Transaction{
		ID:          uuid.New(),
		UserID:      params.UserID,
		Amount:      params.Amount,
		Kind:        params.Kind,
		ReferenceID: params.ReferenceID,
		Description: params.Description,
		Monetary:    params.Monetary,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (l *recordingLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.credits)
}

// staticPlans serves fixed plans by id and provider price.
type staticPlans struct {
	plans []plan.Plan
}

func (c *staticPlans) GetPlan(ctx context.Context, id uuid.UUID) (*plan.Plan, error) {
	for _, p := range c.plans {
		if p.ID == id && p.IsActive {
			cp := p
			return &cp, nil
		}
	}
	return nil, plan.ErrPlanNotFound
}

func (c *staticPlans) GetPlanByProviderPrice(ctx context.Context, priceID string) (*plan.Plan, error) {
	for _, p := range c.plans {
		if p.ProviderPriceID == priceID {
			cp := p
			return &cp, nil
		}
	}
	return nil, plan.ErrPlanNotFound
}

// staticTrials reports a fixed trial-consumption answer.
type staticTrials struct {
	consumed map[uuid.UUID]bool
}

func (t *staticTrials) HasConsumedInitialTrial(ctx context.Context, userID uuid.UUID) (bool, error) {
	return t.consumed[userID], nil
}

// mockGateway is a testify mock over billing.Gateway.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) RetrieveSubscription(ctx context.Context, providerSubID string) (*billing.Subscription, error) {
	args := m.Called(ctx, providerSubID)
	if sub := args.Get(0); sub != nil {
		return sub.(*billing.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) RetrievePaymentIntent(ctx context.Context, providerID string) (*billing.PaymentIntent, error) {
	args := m.Called(ctx, providerID)
	if pi := args.Get(0); pi != nil {
		return pi.(*billing.PaymentIntent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) CancelSubscription(ctx context.Context, providerSubID string) error {
	return m.Called(ctx, providerSubID).Error(0)
}

func (m *mockGateway) SetCancelAtPeriodEnd(ctx context.Context, providerSubID string, cancel bool) (*billing.Subscription, error) {
	args := m.Called(ctx, providerSubID, cancel)
	if sub := args.Get(0); sub != nil {
		return sub.(*billing.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

// memGuard remembers applied event ids, serializing handlers on one mutex.
type memGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemGuard() *memGuard {
	return &memGuard{seen: make(map[string]bool)}
}

func (g *memGuard) Process(ctx context.Context, eventID, scopeKey string, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[eventID] {
		return webhookguard.ErrEventAlreadyProcessed
	}
	if err := fn(ctx); err != nil {
		return err
	}
	g.seen[eventID] = true
	return nil
}

// recordingNotifier captures dispatched notifications. Dispatch is
// asynchronous, so assertions wait on the channel.
type recordingNotifier struct {
	mu    sync.Mutex
	notes []subscription.Notification
	ch    chan subscription.Notification
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan subscription.Notification, 16)}
}

func (n *recordingNotifier) Notify(ctx context.Context, note subscription.Notification) error {
	n.mu.Lock()
	n.notes = append(n.notes, note)
	n.mu.Unlock()
	n.ch <- note
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

// failingGuard runs the handler, then fails as if recording the processed
// event could not commit.
type failingGuard struct {
	err error
}

func (g *failingGuard) Process(ctx context.Context, eventID, scopeKey string, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	return g.err
}
