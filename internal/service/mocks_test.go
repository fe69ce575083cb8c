package service_test

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/ledger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/provider"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

// --- Mock campaign repository ---

type mockCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign

	dispatched     map[int]int // campaignID -> total
	statusUpdates  []string
	aggregateCalls int
}

func newMockCampaignRepo(campaigns ...*model.Campaign) *mockCampaignRepo {
	m := &mockCampaignRepo{
		campaigns:  map[int]*model.Campaign{},
		dispatched: map[int]int{},
	}
	for _, c := range campaigns {
		m.campaigns[c.ID] = c
	}
	return m
}

func (m *mockCampaignRepo) GetByID(id int) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign with ID %d not found", id)
	}
	copied := *c
	return &copied, nil
}

func (m *mockCampaignRepo) Create(c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = len(m.campaigns) + 1
	m.campaigns[c.ID] = c
	return nil
}

func (m *mockCampaignRepo) ListCampaigns(offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	return []*model.Campaign{}, 0, nil
}

func (m *mockCampaignRepo) UpdateStatus(campaignID int, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusUpdates = append(m.statusUpdates, status)
	if c, ok := m.campaigns[campaignID]; ok {
		c.Status = status
	}
	return nil
}

func (m *mockCampaignRepo) MarkDispatched(campaignID, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched[campaignID] = total
	if c, ok := m.campaigns[campaignID]; ok {
		c.Status = model.CampaignStatusSending
		c.Total = total
	}
	return nil
}

func (m *mockCampaignRepo) UpdateAggregate(campaignID, success, failed int, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggregateCalls++
	if c, ok := m.campaigns[campaignID]; ok {
		c.Success = success
		c.Failed = failed
		c.Status = status
	}
	return nil
}

// --- Mock message repository ---

type mockMessageRepo struct {
	mu     sync.Mutex
	nextID int
	msgs   map[int]*model.Message
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{nextID: 1, msgs: map[int]*model.Message{}}
}

func (m *mockMessageRepo) add(msg *model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == 0 {
		msg.ID = m.nextID
	}
	if msg.ID >= m.nextID {
		m.nextID = msg.ID + 1
	}
	m.msgs[msg.ID] = msg
}

func (m *mockMessageRepo) InsertQueuedTx(tx *sql.Tx, msgs []*model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		msg.ID = m.nextID
		m.nextID++
		msg.Status = model.MessageStatusQueued
		m.msgs[msg.ID] = msg
	}
	return nil
}

func (m *mockMessageRepo) LoadQueuedByIDs(ids []int) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Message{}
	for _, id := range ids {
		msg, ok := m.msgs[id]
		if ok && msg.Status == model.MessageStatusQueued && msg.ProviderMessageID == nil {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockMessageRepo) ListQueuedIDs(campaignID int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []int{}
	for _, msg := range m.msgs {
		if msg.CampaignID == campaignID && msg.Status == model.MessageStatusQueued && msg.ProviderMessageID == nil {
			ids = append(ids, msg.ID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (m *mockMessageRepo) MarkSent(id int, providerMessageID, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.msgs[id]; ok && msg.Status == model.MessageStatusQueued {
		msg.Status = model.MessageStatusSent
		msg.ProviderMessageID = &providerMessageID
		msg.BatchID = batchID
	}
	return nil
}

func (m *mockMessageRepo) MarkFailed(id int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.msgs[id]; ok && msg.Status == model.MessageStatusQueued {
		msg.Status = model.MessageStatusFailed
		msg.LastError = reason
	}
	return nil
}

func (m *mockMessageRepo) IncrementRetryQueued(ids []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if msg, ok := m.msgs[id]; ok && msg.Status == model.MessageStatusQueued {
			msg.RetryCount++
		}
	}
	return nil
}

func (m *mockMessageRepo) FailRemainingQueued(ids []int, reason string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := []int{}
	for _, id := range ids {
		if msg, ok := m.msgs[id]; ok && msg.Status == model.MessageStatusQueued && msg.ProviderMessageID == nil {
			msg.Status = model.MessageStatusFailed
			msg.LastError = reason
			failed = append(failed, id)
		}
	}
	return failed, nil
}

func (m *mockMessageRepo) GetByID(id int) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msgs[id], nil
}

func (m *mockMessageRepo) GetByProviderMessageID(providerMessageID string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ProviderMessageID != nil && *msg.ProviderMessageID == providerMessageID {
			return msg, nil
		}
	}
	return nil, nil
}

func (m *mockMessageRepo) MarkDeliveryFailed(providerMessageID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ProviderMessageID != nil && *msg.ProviderMessageID == providerMessageID && msg.Status == model.MessageStatusSent {
			msg.Status = model.MessageStatusFailed
			msg.LastError = reason
			return true, nil
		}
	}
	return false, nil
}

func (m *mockMessageRepo) ListSentByCampaign(campaignID int) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Message{}
	for _, msg := range m.msgs {
		if msg.CampaignID == campaignID && msg.Status == model.MessageStatusSent && msg.ProviderMessageID != nil {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockMessageRepo) ListSentByBatch(batchID string) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Message{}
	for _, msg := range m.msgs {
		if msg.BatchID == batchID && msg.Status == model.MessageStatusSent && msg.ProviderMessageID != nil {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockMessageRepo) CountByStatus(campaignID int) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{"queued": 0, "sent": 0, "failed": 0}
	for _, msg := range m.msgs {
		if msg.CampaignID == campaignID {
			counts[msg.Status]++
		}
	}
	return counts, nil
}

// --- Mock ledger ---

type ledgerCall struct {
	Owner  string
	Type   string
	Amount int
	Reason string
}

type mockLedger struct {
	mu       sync.Mutex
	balances map[string]int
	calls    []ledgerCall
}

func newMockLedger(balances map[string]int) *mockLedger {
	if balances == nil {
		balances = map[string]int{}
	}
	return &mockLedger{balances: balances}
}

func (m *mockLedger) apply(owner, txnType string, amount int, reason string) (*model.LedgerTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.balances[owner]
	newBalance := balance + amount
	if txnType == model.TransactionTypeDebit {
		newBalance = balance - amount
		if newBalance < 0 {
			return nil, appErrors.NewInsufficientCredits(owner, amount, balance)
		}
	}
	m.balances[owner] = newBalance
	m.calls = append(m.calls, ledgerCall{Owner: owner, Type: txnType, Amount: amount, Reason: reason})
	return &model.LedgerTransaction{OwnerID: owner, Type: txnType, Amount: amount, BalanceAfter: newBalance, Reason: reason}, nil
}

func (m *mockLedger) Credit(owner string, amount int, reason string, corr ledger.Correlation) (*model.LedgerTransaction, error) {
	return m.apply(owner, model.TransactionTypeCredit, amount, reason)
}

func (m *mockLedger) Debit(owner string, amount int, reason string, corr ledger.Correlation) (*model.LedgerTransaction, error) {
	return m.apply(owner, model.TransactionTypeDebit, amount, reason)
}

func (m *mockLedger) Refund(owner string, amount int, reason string, corr ledger.Correlation) (*model.LedgerTransaction, error) {
	return m.apply(owner, model.TransactionTypeRefund, amount, reason)
}

func (m *mockLedger) DebitTx(tx *sql.Tx, owner string, amount int, reason string, corr ledger.Correlation) (*model.LedgerTransaction, error) {
	return m.apply(owner, model.TransactionTypeDebit, amount, reason)
}

func (m *mockLedger) Balance(owner string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[owner], nil
}

func (m *mockLedger) Transactions(owner string, limit int) ([]*model.LedgerTransaction, error) {
	return []*model.LedgerTransaction{}, nil
}

func (m *mockLedger) countByType(txnType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, call := range m.calls {
		if call.Type == txnType {
			n++
		}
	}
	return n
}

func (m *mockLedger) totalByType(txnType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, call := range m.calls {
		if call.Type == txnType {
			total += call.Amount
		}
	}
	return total
}

// --- Mock queue publisher ---

type mockPublisher struct {
	mu   sync.Mutex
	jobs []queue.BatchJob
	err  error
}

func (m *mockPublisher) PublishBatch(job queue.BatchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

// --- Mock collaborators ---

type mockResolver struct {
	contacts []model.Contact
}

func (m *mockResolver) Resolve(campaignID int) ([]model.Contact, error) {
	return m.contacts, nil
}

func makeContacts(n int) []model.Contact {
	contacts := make([]model.Contact, n)
	for i := range contacts {
		contacts[i] = model.Contact{
			ID:        i + 1,
			Phone:     fmt.Sprintf("+2547%08d", i+1),
			FirstName: fmt.Sprintf("Contact%d", i+1),
		}
	}
	return contacts
}

type mockContactRepo struct {
	contacts map[int]*model.Contact
}

func (m *mockContactRepo) GetByID(id int) (*model.Contact, error) {
	return m.contacts[id], nil
}

func (m *mockContactRepo) ListByCampaign(campaignID int) ([]model.Contact, error) {
	return nil, nil
}

type mockEntitlements struct {
	eligible bool
}

func (m *mockEntitlements) IsEligible(ownerID string) (bool, error) {
	return m.eligible, nil
}

type mockGate struct {
	mu      sync.Mutex
	allowed bool
	calls   int
}

func (m *mockGate) CheckAll(ctx context.Context, tenant string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.allowed
}

// --- Mock provider client ---

type mockProvider struct {
	mu          sync.Mutex
	sendBulk    func(msgs []provider.BulkMessage) (*provider.BulkResponse, error)
	sendSingle  func(msg provider.BulkMessage) (string, error)
	getStatus   func(providerMessageID string) (*provider.StatusResponse, error)
	bulkCalls   int
	singleCalls int
	statusCalls int
}

func (m *mockProvider) SendBulk(ctx context.Context, msgs []provider.BulkMessage) (*provider.BulkResponse, error) {
	m.mu.Lock()
	m.bulkCalls++
	fn := m.sendBulk
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("unexpected SendBulk call")
	}
	return fn(msgs)
}

func (m *mockProvider) SendSingle(ctx context.Context, msg provider.BulkMessage) (string, error) {
	m.mu.Lock()
	m.singleCalls++
	fn := m.sendSingle
	m.mu.Unlock()
	if fn == nil {
		return "", fmt.Errorf("unexpected SendSingle call")
	}
	return fn(msg)
}

func (m *mockProvider) GetStatus(ctx context.Context, providerMessageID string) (*provider.StatusResponse, error) {
	m.mu.Lock()
	m.statusCalls++
	fn := m.getStatus
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("unexpected GetStatus call")
	}
	return fn(providerMessageID)
}

type nopRenderer struct{}

func (nopRenderer) Finalize(renderedContent string, messageID int) string {
	return renderedContent
}
