package core_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomesh/govledger/balances"
	"github.com/axiomesh/govledger/core"
	"github.com/axiomesh/govledger/storage"
)

var (
	alice = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob   = common.HexToAddress("0x1000000000000000000000000000000000000002")
	carol = common.HexToAddress("0x1000000000000000000000000000000000000003")

	testConfig = core.Config{
		MaxVoters:            100,
		VoteLimit:            10,
		VoteRemovalThreshold: 5,
	}
)

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) Emit(evt core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) all() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

func (r *recorder) last() core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type testEnv struct {
	ctx    context.Context
	engine *core.Engine
	ledger *balances.Ledger
	clock  *core.ManualClock
	events *recorder
}

func newTestEnv(t *testing.T, config core.Config, opts ...core.Option) *testEnv {
	return newTestEnvWithStore(t, storage.NewMemory(), config, opts...)
}

func newTestEnvWithStore(t *testing.T, db storage.Store, config core.Config, opts ...core.Option) *testEnv {
	t.Cleanup(func() { _ = db.Close() })
	logger := log.New()
	env := &testEnv{
		ctx:    context.Background(),
		ledger: balances.New(db, logger),
		clock:  core.NewManualClock(1),
		events: &recorder{},
	}
	opts = append([]core.Option{core.WithEventSink(env.events), core.WithLogger(logger)}, opts...)
	env.engine = core.NewEngine(db, env.ledger, env.clock, config, opts...)
	return env
}

func (env *testEnv) register(t *testing.T, who ...core.AccountID) {
	for _, w := range who {
		require.Nil(t, env.engine.Register(env.ctx, core.Root(), w))
	}
}

func (env *testEnv) fund(t *testing.T, who core.AccountID, amount uint64) {
	require.Nil(t, env.ledger.SetBalance(env.ctx, who, amount))
}

func (env *testEnv) propose(t *testing.T, who core.AccountID, deadline uint64) core.ProposalID {
	id, err := env.engine.Propose(env.ctx, core.Signed(who), common.Hash{}, deadline)
	require.Nil(t, err)
	return id
}

func (env *testEnv) proposal(t *testing.T, id core.ProposalID) *core.Proposal {
	p, err := env.engine.Proposal(env.ctx, id)
	require.Nil(t, err)
	return p
}

func (env *testEnv) balance(t *testing.T, who core.AccountID) *balances.Account {
	acc, err := env.ledger.Account(env.ctx, who)
	require.Nil(t, err)
	return acc
}

// votingSetup registers alice with 25 free units and opens a proposal by
// alice ending at deadline.
func votingSetup(t *testing.T, deadline uint64) (*testEnv, core.ProposalID) {
	env := newTestEnv(t, testConfig)
	env.register(t, alice)
	env.fund(t, alice, 25)
	return env, env.propose(t, alice, deadline)
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t, testConfig)

	require.Nil(t, env.engine.Register(env.ctx, core.Root(), bob))
	ok, err := env.engine.IsRegistered(env.ctx, bob)
	require.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, []core.Event{core.VoterRegistered{Who: bob}}, env.events.all())

	err = env.engine.Register(env.ctx, core.Root(), bob)
	assert.ErrorIs(t, err, core.ErrAlreadyRegistered)

	err = env.engine.Register(env.ctx, core.Signed(alice), carol)
	assert.ErrorIs(t, err, core.ErrBadOrigin)

	ok, err = env.engine.IsRegistered(env.ctx, carol)
	require.Nil(t, err)
	assert.False(t, ok)
	count, err := env.engine.VoterCount(env.ctx)
	require.Nil(t, err)
	assert.Equal(t, uint32(1), count)
	assert.Len(t, env.events.all(), 1)
}

func TestRegisterMaxVoters(t *testing.T) {
	config := testConfig
	config.MaxVoters = 1
	env := newTestEnv(t, config)

	env.register(t, bob)
	err := env.engine.Register(env.ctx, core.Root(), carol)
	assert.ErrorIs(t, err, core.ErrMaxVotersLimitReached)
}

func TestPropose(t *testing.T) {
	env := newTestEnv(t, testConfig)
	env.clock.Set(82)
	env.register(t, alice)

	initial, err := env.engine.ProposalCounter(env.ctx)
	require.Nil(t, err)

	desc := common.HexToHash("0xabcdef")
	id, err := env.engine.Propose(env.ctx, core.Signed(alice), desc, 90)
	require.Nil(t, err)
	assert.Equal(t, initial+1, id)

	exists, err := env.engine.ProposalExists(env.ctx, id)
	require.Nil(t, err)
	assert.True(t, exists)
	counter, err := env.engine.ProposalCounter(env.ctx)
	require.Nil(t, err)
	assert.Equal(t, id, counter)

	p := env.proposal(t, id)
	assert.Equal(t, core.NewProposal(id, alice, desc, 90), p)
	assert.Equal(t, core.InProgress, p.Status)
	assert.Equal(t, core.ProposalSubmitted{ProposalID: id, Who: alice, Description: desc, Deadline: 90}, env.events.last())

	second := env.propose(t, alice, 100)
	assert.Equal(t, id+1, second)
}

func TestProposeRejected(t *testing.T) {
	env := newTestEnv(t, testConfig)
	env.clock.Set(82)
	env.register(t, alice)

	_, err := env.engine.Propose(env.ctx, core.Signed(alice), common.Hash{}, 80)
	assert.ErrorIs(t, err, core.ErrTimePeriodTooLow)
	_, err = env.engine.Propose(env.ctx, core.Signed(alice), common.Hash{}, 82)
	assert.ErrorIs(t, err, core.ErrTimePeriodTooLow)
	_, err = env.engine.Propose(env.ctx, core.Signed(bob), common.Hash{}, 90)
	assert.ErrorIs(t, err, core.ErrVoterIsNotRegistered)
	_, err = env.engine.Propose(env.ctx, core.Root(), common.Hash{}, 90)
	assert.ErrorIs(t, err, core.ErrBadOrigin)

	counter, err := env.engine.ProposalCounter(env.ctx)
	require.Nil(t, err)
	assert.Equal(t, core.ProposalID(0), counter)
}

func TestExtend(t *testing.T) {
	env := newTestEnv(t, testConfig)
	env.clock.Set(30)
	env.register(t, alice, bob)
	id := env.propose(t, alice, 50)

	require.Nil(t, env.engine.Extend(env.ctx, core.Signed(alice), id, 60))
	assert.Equal(t, uint64(60), env.proposal(t, id).Deadline)
	assert.Equal(t, core.ProposalUpdated{ProposalID: id, Deadline: 60}, env.events.last())

	err := env.engine.Extend(env.ctx, core.Signed(alice), id, 55)
	assert.ErrorIs(t, err, core.ErrTimePeriodTooLow)
	err = env.engine.Extend(env.ctx, core.Signed(alice), id, 60)
	assert.ErrorIs(t, err, core.ErrTimePeriodTooLow)
	err = env.engine.Extend(env.ctx, core.Signed(bob), id, 70)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	err = env.engine.Extend(env.ctx, core.Signed(carol), id, 70)
	assert.ErrorIs(t, err, core.ErrVoterIsNotRegistered)
	err = env.engine.Extend(env.ctx, core.Signed(alice), id+1, 70)
	assert.ErrorIs(t, err, core.ErrProposalNotFound)

	// past deadline the new one still has to lie ahead of now
	env.clock.Set(80)
	err = env.engine.Extend(env.ctx, core.Signed(alice), id, 75)
	assert.ErrorIs(t, err, core.ErrTimePeriodTooLow)
	require.Nil(t, env.engine.Extend(env.ctx, core.Signed(alice), id, 81))
}

func TestExtendIgnoresStatus(t *testing.T) {
	env := newTestEnv(t, testConfig)
	env.register(t, alice)
	id := env.propose(t, alice, 10)
	require.Nil(t, env.engine.Cancel(env.ctx, core.Signed(alice), id))

	require.Nil(t, env.engine.Extend(env.ctx, core.Signed(alice), id, 20))
	p := env.proposal(t, id)
	assert.Equal(t, core.Canceled, p.Status)
	assert.Equal(t, uint64(20), p.Deadline)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, testConfig)
	env.clock.Set(30)
	env.register(t, alice, bob)
	id := env.propose(t, alice, 50)

	err := env.engine.Cancel(env.ctx, core.Signed(bob), id)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	require.Nil(t, env.engine.Cancel(env.ctx, core.Signed(alice), id))
	assert.Equal(t, core.Canceled, env.proposal(t, id).Status)
	assert.Equal(t, core.ProposalCanceled{ProposalID: id}, env.events.last())

	err = env.engine.Cancel(env.ctx, core.Signed(alice), id)
	assert.ErrorIs(t, err, core.ErrProposalAlreadyEnded)
	err = env.engine.Cancel(env.ctx, core.Signed(alice), id+1)
	assert.ErrorIs(t, err, core.ErrProposalNotFound)
}

func TestCancelAfterDeadline(t *testing.T) {
	env := newTestEnv(t, testConfig)
	env.clock.Set(30)
	env.register(t, alice)
	id := env.propose(t, alice, 50)

	env.clock.Set(100)
	err := env.engine.Cancel(env.ctx, core.Signed(alice), id)
	assert.ErrorIs(t, err, core.ErrTimePeriodTooLow)
	assert.Equal(t, core.InProgress, env.proposal(t, id).Status)
}

func TestVote(t *testing.T) {
	env, id := votingSetup(t, 10)
	env.register(t, bob)
	env.fund(t, bob, 25)

	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(2)))
	assert.Equal(t, &balances.Account{Free: 21, Reserved: 4}, env.balance(t, alice))
	casted, err := env.engine.VoteCasted(env.ctx, alice, id)
	require.Nil(t, err)
	assert.True(t, casted)
	assert.Equal(t, core.VoteCasted{ProposalID: id, Who: alice, Decision: core.AyeVote(2)}, env.events.last())

	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(bob), id, core.NayVote(5)))
	assert.Equal(t, &balances.Account{Free: 0, Reserved: 25}, env.balance(t, bob))

	p := env.proposal(t, id)
	assert.Equal(t, uint32(2), p.Ayes)
	assert.Equal(t, uint32(5), p.Nays)

	v, err := env.engine.VoteInfo(env.ctx, bob, id)
	require.Nil(t, err)
	assert.Equal(t, &core.Vote{Decision: core.NayVote(5), Locked: true}, v)
}

func TestVoteRejected(t *testing.T) {
	env, id := votingSetup(t, 10)
	env.register(t, bob)

	tests := []struct {
		name     string
		who      core.AccountID
		id       core.ProposalID
		decision core.Decision
		err      error
	}{
		{"not registered", carol, id, core.AyeVote(1), core.ErrVoterIsNotRegistered},
		{"no proposal", alice, id + 1, core.AyeVote(1), core.ErrProposalNotFound},
		{"zero points", alice, id, core.AyeVote(0), core.ErrInvalidVoteAmount},
		{"unknown side", alice, id, core.Decision{Points: 1}, core.ErrInvalidVoteAmount},
		{"over limit", alice, id, core.NayVote(testConfig.VoteLimit + 1), core.ErrVoteAmountLimit},
		{"no balance", bob, id, core.AyeVote(1), core.ErrInsufficientBalance},
		{"too little balance", alice, id, core.AyeVote(6), core.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.engine.Vote(env.ctx, core.Signed(tt.who), tt.id, tt.decision)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	p := env.proposal(t, id)
	assert.Zero(t, p.Ayes)
	assert.Zero(t, p.Nays)
	assert.Equal(t, &balances.Account{Free: 25}, env.balance(t, alice))
	casted, err := env.engine.VoteCasted(env.ctx, alice, id)
	require.Nil(t, err)
	assert.False(t, casted)
	// only the registration and proposal events
	assert.Len(t, env.events.all(), 3)
}

func TestVoteAlreadyCasted(t *testing.T) {
	env, id := votingSetup(t, 10)
	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(1)))

	err := env.engine.Vote(env.ctx, core.Signed(alice), id, core.NayVote(1))
	assert.ErrorIs(t, err, core.ErrVoteAlreadyCasted)
	assert.Equal(t, uint64(1), env.balance(t, alice).Reserved)
}

func TestVoteAfterEnd(t *testing.T) {
	env, id := votingSetup(t, 10)

	env.clock.Set(10)
	err := env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(1))
	assert.ErrorIs(t, err, core.ErrProposalAlreadyEnded)

	env.clock.Set(20)
	err = env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(1))
	assert.ErrorIs(t, err, core.ErrProposalAlreadyEnded)

	canceled := env.propose(t, alice, 30)
	require.Nil(t, env.engine.Cancel(env.ctx, core.Signed(alice), canceled))
	err = env.engine.Vote(env.ctx, core.Signed(alice), canceled, core.AyeVote(1))
	assert.ErrorIs(t, err, core.ErrProposalAlreadyEnded)
}

func TestUpdateVoteSequence(t *testing.T) {
	env, id := votingSetup(t, 50)
	env.fund(t, alice, 100)
	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(3)))

	steps := []struct {
		decision core.Decision
		ayes     uint32
		nays     uint32
	}{
		{core.AyeVote(5), 5, 0},
		{core.AyeVote(2), 2, 0},
		{core.NayVote(2), 0, 2},
		{core.NayVote(7), 0, 7},
		{core.AyeVote(1), 1, 0},
	}
	previous := core.AyeVote(3)
	for _, step := range steps {
		require.Nil(t, env.engine.UpdateVote(env.ctx, core.Signed(alice), id, step.decision))

		cost, err := step.decision.Cost()
		require.Nil(t, err)
		acc := env.balance(t, alice)
		assert.Equal(t, cost, acc.Reserved, step.decision.String())
		assert.Equal(t, 100-cost, acc.Free, step.decision.String())

		p := env.proposal(t, id)
		assert.Equal(t, step.ayes, p.Ayes, step.decision.String())
		assert.Equal(t, step.nays, p.Nays, step.decision.String())
		assert.Equal(t, core.VoteUpdated{ProposalID: id, Who: alice, Previous: previous, New: step.decision}, env.events.last())
		previous = step.decision
	}

	v, err := env.engine.VoteInfo(env.ctx, alice, id)
	require.Nil(t, err)
	assert.Equal(t, &core.Vote{Decision: core.AyeVote(1), Locked: true}, v)
}

func TestUpdateVoteSameAmount(t *testing.T) {
	env, id := votingSetup(t, 50)
	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(3)))
	require.Nil(t, env.engine.UpdateVote(env.ctx, core.Signed(alice), id, core.NayVote(3)))

	assert.Equal(t, &balances.Account{Free: 16, Reserved: 9}, env.balance(t, alice))
	p := env.proposal(t, id)
	assert.Zero(t, p.Ayes)
	assert.Equal(t, uint32(3), p.Nays)
}

func TestUpdateVoteRemovalThreshold(t *testing.T) {
	env, id := votingSetup(t, 10)
	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(3)))

	env.clock.Set(10 - testConfig.VoteRemovalThreshold + 1)
	passed, err := env.engine.PassedRemovalThreshold(env.ctx, id)
	require.Nil(t, err)
	assert.True(t, passed)

	err = env.engine.UpdateVote(env.ctx, core.Signed(alice), id, core.AyeVote(2))
	assert.ErrorIs(t, err, core.ErrPassedRemovalThreshold)
	assert.Equal(t, uint64(9), env.balance(t, alice).Reserved)

	require.Nil(t, env.engine.UpdateVote(env.ctx, core.Signed(alice), id, core.AyeVote(4)))
	assert.Equal(t, &balances.Account{Free: 9, Reserved: 16}, env.balance(t, alice))
	assert.Equal(t, uint32(4), env.proposal(t, id).Ayes)
}

func TestUpdateVoteBeforeThreshold(t *testing.T) {
	env, id := votingSetup(t, 10)
	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(3)))

	env.clock.Set(10 - testConfig.VoteRemovalThreshold)
	passed, err := env.engine.PassedRemovalThreshold(env.ctx, id)
	require.Nil(t, err)
	assert.False(t, passed)
	require.Nil(t, env.engine.UpdateVote(env.ctx, core.Signed(alice), id, core.AyeVote(2)))
	assert.Equal(t, uint64(4), env.balance(t, alice).Reserved)
}

func TestUpdateVoteRejected(t *testing.T) {
	env, id := votingSetup(t, 50)
	env.fund(t, alice, 10)
	env.register(t, bob)
	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(3)))

	tests := []struct {
		name     string
		who      core.AccountID
		id       core.ProposalID
		decision core.Decision
		err      error
	}{
		{"not registered", carol, id, core.AyeVote(1), core.ErrVoterIsNotRegistered},
		{"no proposal", alice, id + 1, core.AyeVote(1), core.ErrProposalNotFound},
		{"no vote", bob, id, core.AyeVote(1), core.ErrVoteNotFound},
		{"zero points", alice, id, core.NayVote(0), core.ErrInvalidUpdateAmount},
		{"over limit", alice, id, core.AyeVote(testConfig.VoteLimit + 1), core.ErrVoteAmountLimit},
		{"not enough balance", alice, id, core.AyeVote(4), core.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.engine.UpdateVote(env.ctx, core.Signed(tt.who), tt.id, tt.decision)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.Equal(t, &balances.Account{Free: 1, Reserved: 9}, env.balance(t, alice))
	assert.Equal(t, uint32(3), env.proposal(t, id).Ayes)
	v, err := env.engine.VoteInfo(env.ctx, alice, id)
	require.Nil(t, err)
	assert.Equal(t, core.AyeVote(3), v.Decision)

	env.clock.Set(51)
	err = env.engine.UpdateVote(env.ctx, core.Signed(alice), id, core.AyeVote(1))
	assert.ErrorIs(t, err, core.ErrProposalAlreadyEnded)
}

func TestCancelVoteRoundTrip(t *testing.T) {
	env, id := votingSetup(t, 50)
	env.register(t, bob)
	env.fund(t, bob, 25)
	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(bob), id, core.NayVote(2)))
	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(3)))
	before := env.proposal(t, id)
	balanceBefore := env.balance(t, alice)

	require.Nil(t, env.engine.CancelVote(env.ctx, core.Signed(alice), id))
	assert.Equal(t, core.VoteCanceled{ProposalID: id, Who: alice}, env.events.last())
	assert.Equal(t, &balances.Account{Free: 25}, env.balance(t, alice))
	p := env.proposal(t, id)
	assert.Zero(t, p.Ayes)
	assert.Equal(t, uint32(2), p.Nays)
	casted, err := env.engine.VoteCasted(env.ctx, alice, id)
	require.Nil(t, err)
	assert.False(t, casted)

	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(3)))
	assert.Equal(t, before, env.proposal(t, id))
	assert.Equal(t, balanceBefore, env.balance(t, alice))
}

func TestCancelVoteRejected(t *testing.T) {
	env, id := votingSetup(t, 10)
	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(3)))

	err := env.engine.CancelVote(env.ctx, core.Signed(alice), id+1)
	assert.ErrorIs(t, err, core.ErrProposalNotFound)
	err = env.engine.CancelVote(env.ctx, core.Signed(bob), id)
	assert.ErrorIs(t, err, core.ErrVoteNotFound)

	env.clock.Set(10 - testConfig.VoteRemovalThreshold + 1)
	err = env.engine.CancelVote(env.ctx, core.Signed(alice), id)
	assert.ErrorIs(t, err, core.ErrPassedRemovalThreshold)

	env.clock.Set(10)
	err = env.engine.CancelVote(env.ctx, core.Signed(alice), id)
	assert.ErrorIs(t, err, core.ErrPassedRemovalThreshold)

	env.clock.Set(11)
	err = env.engine.CancelVote(env.ctx, core.Signed(alice), id)
	assert.ErrorIs(t, err, core.ErrProposalAlreadyEnded)

	assert.Equal(t, &balances.Account{Free: 16, Reserved: 9}, env.balance(t, alice))
	assert.Equal(t, uint32(3), env.proposal(t, id).Ayes)
}

func TestCancelVoteOnCanceledProposal(t *testing.T) {
	env, id := votingSetup(t, 50)
	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(2)))
	require.Nil(t, env.engine.Cancel(env.ctx, core.Signed(alice), id))

	err := env.engine.CancelVote(env.ctx, core.Signed(alice), id)
	assert.ErrorIs(t, err, core.ErrProposalAlreadyEnded)
}

func TestFinish(t *testing.T) {
	tests := []struct {
		name   string
		alice  core.Decision
		bob    core.Decision
		status core.ProposalStatus
	}{
		{"passed", core.AyeVote(3), core.NayVote(2), core.Passed},
		{"rejected", core.AyeVote(1), core.NayVote(2), core.Rejected},
		{"tied", core.AyeVote(2), core.NayVote(2), core.Tied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, id := votingSetup(t, 5)
			env.register(t, bob)
			env.fund(t, bob, 25)
			require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, tt.alice))
			require.Nil(t, env.engine.Vote(env.ctx, core.Signed(bob), id, tt.bob))

			env.clock.Set(6)
			require.Nil(t, env.engine.Finish(env.ctx, core.Signed(bob), id))
			p := env.proposal(t, id)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, core.ProposalEnded{ProposalID: id, Status: tt.status, Ayes: p.Ayes, Nays: p.Nays}, env.events.last())

			err := env.engine.Finish(env.ctx, core.Signed(alice), id)
			assert.ErrorIs(t, err, core.ErrProposalAlreadyEnded)
		})
	}
}

func TestFinishWithoutVotes(t *testing.T) {
	env, id := votingSetup(t, 5)
	env.clock.Set(6)
	require.Nil(t, env.engine.Finish(env.ctx, core.Signed(alice), id))
	assert.Equal(t, core.Tied, env.proposal(t, id).Status)
}

func TestFinishRejected(t *testing.T) {
	env, id := votingSetup(t, 5)

	err := env.engine.Finish(env.ctx, core.Signed(alice), id)
	assert.ErrorIs(t, err, core.ErrProposalAlreadyEnded)
	env.clock.Set(5)
	err = env.engine.Finish(env.ctx, core.Signed(alice), id)
	assert.ErrorIs(t, err, core.ErrProposalAlreadyEnded)

	env.clock.Set(6)
	err = env.engine.Finish(env.ctx, core.Signed(bob), id)
	assert.ErrorIs(t, err, core.ErrVoterIsNotRegistered)
	err = env.engine.Finish(env.ctx, core.Signed(alice), id+1)
	assert.ErrorIs(t, err, core.ErrProposalNotFound)
	assert.Equal(t, core.InProgress, env.proposal(t, id).Status)

	env.clock.Set(1)
	canceled := env.propose(t, alice, 5)
	require.Nil(t, env.engine.Cancel(env.ctx, core.Signed(alice), canceled))
	env.clock.Set(6)
	err = env.engine.Finish(env.ctx, core.Signed(alice), canceled)
	assert.ErrorIs(t, err, core.ErrProposalAlreadyEnded)
	assert.Equal(t, core.Canceled, env.proposal(t, canceled).Status)
}

func TestUnlockBalance(t *testing.T) {
	env, id := votingSetup(t, 5)
	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(4)))
	assert.Equal(t, &balances.Account{Free: 9, Reserved: 16}, env.balance(t, alice))

	err := env.engine.UnlockBalance(env.ctx, core.Signed(alice), id)
	assert.ErrorIs(t, err, core.ErrProposalInProgress)

	env.clock.Set(6)
	require.Nil(t, env.engine.Finish(env.ctx, core.Signed(alice), id))
	require.Nil(t, env.engine.UnlockBalance(env.ctx, core.Signed(alice), id))
	assert.Equal(t, &balances.Account{Free: 25}, env.balance(t, alice))
	assert.Equal(t, core.BalanceUnlocked{ProposalID: id, Who: alice, Amount: 16}, env.events.last())

	v, err := env.engine.VoteInfo(env.ctx, alice, id)
	require.Nil(t, err)
	assert.False(t, v.Locked)

	err = env.engine.UnlockBalance(env.ctx, core.Signed(alice), id)
	assert.ErrorIs(t, err, core.ErrBalanceAlreadyUnlocked)
	err = env.engine.UnlockBalance(env.ctx, core.Signed(bob), id)
	assert.ErrorIs(t, err, core.ErrVoteNotFound)
	err = env.engine.UnlockBalance(env.ctx, core.Signed(alice), id+1)
	assert.ErrorIs(t, err, core.ErrProposalNotFound)
	assert.Equal(t, &balances.Account{Free: 25}, env.balance(t, alice))
}

func TestUnlockAfterCancel(t *testing.T) {
	env, id := votingSetup(t, 50)
	require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.NayVote(3)))
	require.Nil(t, env.engine.Cancel(env.ctx, core.Signed(alice), id))

	// canceling the proposal leaves the collateral reserved
	assert.Equal(t, &balances.Account{Free: 16, Reserved: 9}, env.balance(t, alice))

	require.Nil(t, env.engine.UnlockBalance(env.ctx, core.Signed(alice), id))
	assert.Equal(t, &balances.Account{Free: 25}, env.balance(t, alice))
}

func TestProposals(t *testing.T) {
	env := newTestEnv(t, testConfig)
	env.register(t, alice)
	for i := 0; i < 5; i++ {
		env.propose(t, alice, uint64(10+i))
	}

	list, err := env.engine.Proposals(env.ctx, 0, 0)
	require.Nil(t, err)
	require.Len(t, list, 5)
	assert.Equal(t, core.ProposalID(1), list[0].ID)
	assert.Equal(t, uint64(14), list[4].Deadline)

	list, err = env.engine.Proposals(env.ctx, 3, 2)
	require.Nil(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, core.ProposalID(3), list[0].ID)
	assert.Equal(t, core.ProposalID(4), list[1].ID)
}

func TestConcurrentVotes(t *testing.T) {
	config := testConfig
	config.MaxVoters = 1000
	env := newTestEnv(t, config)
	env.register(t, alice)
	id := env.propose(t, alice, 100)

	voters := make([]core.AccountID, 50)
	for i := range voters {
		voters[i] = common.BytesToAddress([]byte{0x20, byte(i)})
		env.register(t, voters[i])
		env.fund(t, voters[i], 100)
	}

	var wg sync.WaitGroup
	for i, who := range voters {
		wg.Add(1)
		go func(i int, who core.AccountID) {
			defer wg.Done()
			decision := core.AyeVote(2)
			if i%2 == 1 {
				decision = core.NayVote(3)
			}
			assert.Nil(t, env.engine.Vote(env.ctx, core.Signed(who), id, decision))
		}(i, who)
	}
	wg.Wait()

	p := env.proposal(t, id)
	assert.Equal(t, uint32(25*2), p.Ayes)
	assert.Equal(t, uint32(25*3), p.Nays)
	for i, who := range voters {
		expected := uint64(4)
		if i%2 == 1 {
			expected = 9
		}
		assert.Equal(t, expected, env.balance(t, who).Reserved)
	}
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newTestEnv(t, testConfig, core.WithMetrics(reg))

	env.register(t, alice)
	err := env.engine.Register(env.ctx, core.Root(), alice)
	assert.ErrorIs(t, err, core.ErrAlreadyRegistered)

	count, err := testutil.GatherAndCount(reg, "govledger_operations_total")
	require.Nil(t, err)
	assert.Equal(t, 2, count)
}

func TestEngineOnBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) storage.Store{
		storage.TypeBadger: func(t *testing.T) storage.Store {
			db, err := storage.NewBadger("")
			require.Nil(t, err)
			return db
		},
		storage.TypeSqlite: func(t *testing.T) storage.Store {
			db, err := storage.NewSqlite("")
			require.Nil(t, err)
			return db
		},
		storage.TypeLevelDB: func(t *testing.T) storage.Store {
			db, err := storage.NewLevelDB(t.TempDir())
			require.Nil(t, err)
			return db
		},
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			env := newTestEnvWithStore(t, open(t), testConfig)
			env.register(t, alice)
			env.fund(t, alice, 25)
			id := env.propose(t, alice, 5)

			require.Nil(t, env.engine.Vote(env.ctx, core.Signed(alice), id, core.AyeVote(2)))
			require.Nil(t, env.engine.UpdateVote(env.ctx, core.Signed(alice), id, core.AyeVote(3)))
			err := env.engine.UpdateVote(env.ctx, core.Signed(alice), id, core.AyeVote(6))
			assert.ErrorIs(t, err, core.ErrInsufficientBalance)
			assert.Equal(t, &balances.Account{Free: 16, Reserved: 9}, env.balance(t, alice))

			env.clock.Set(6)
			require.Nil(t, env.engine.Finish(env.ctx, core.Signed(alice), id))
			require.Nil(t, env.engine.UnlockBalance(env.ctx, core.Signed(alice), id))
			assert.Equal(t, &balances.Account{Free: 25}, env.balance(t, alice))
			assert.Equal(t, core.Passed, env.proposal(t, id).Status)
		})
	}
}

var errCommit = errors.New("commit failed")

// failingStore rolls back every Update whose callback succeeded while failing
// is set, standing in for a store that cannot commit.
type failingStore struct {
	storage.Store
	failing atomic.Bool
}

func (s *failingStore) Update(ctx context.Context, fn func(storage.Txn) error) error {
	return s.Store.Update(ctx, func(txn storage.Txn) error {
		if err := fn(txn); err != nil {
			return err
		}
		if s.failing.Load() {
			return errCommit
		}
		return nil
	})
}

func TestCommitFailureReturnsCollateral(t *testing.T) {
	db := storage.NewMemory()
	t.Cleanup(func() { _ = db.Close() })
	logger, hook := logtest.NewNullLogger()
	ledger := balances.New(db, logger)
	clock := core.NewManualClock(1)
	events := &recorder{}
	store := &failingStore{Store: db}
	engine := core.NewEngine(store, ledger, clock, testConfig, core.WithEventSink(events), core.WithLogger(logger))
	ctx := context.Background()

	require.Nil(t, engine.Register(ctx, core.Root(), alice))
	require.Nil(t, ledger.SetBalance(ctx, alice, 25))
	id, err := engine.Propose(ctx, core.Signed(alice), common.Hash{}, 10)
	require.Nil(t, err)
	before := len(events.all())
	hook.Reset()

	store.failing.Store(true)
	err = engine.Vote(ctx, core.Signed(alice), id, core.AyeVote(3))
	assert.ErrorIs(t, err, errCommit)
	for _, entry := range hook.AllEntries() {
		assert.NotEqual(t, "vote casted", entry.Message)
	}

	acc, err := ledger.Account(ctx, alice)
	require.Nil(t, err)
	assert.Equal(t, &balances.Account{Free: 25, Reserved: 0}, acc)
	p, err := engine.Proposal(ctx, id)
	require.Nil(t, err)
	assert.Equal(t, uint32(0), p.Ayes)
	assert.Equal(t, uint32(0), p.Nays)
	casted, err := engine.VoteCasted(ctx, alice, id)
	require.Nil(t, err)
	assert.False(t, casted)
	assert.Len(t, events.all(), before)

	store.failing.Store(false)
	require.Nil(t, engine.Vote(ctx, core.Signed(alice), id, core.AyeVote(2)))
	assert.Equal(t, "vote casted", hook.LastEntry().Message)
	before = len(events.all())
	hook.Reset()

	store.failing.Store(true)
	err = engine.UpdateVote(ctx, core.Signed(alice), id, core.AyeVote(4))
	assert.ErrorIs(t, err, errCommit)

	acc, err = ledger.Account(ctx, alice)
	require.Nil(t, err)
	assert.Equal(t, &balances.Account{Free: 21, Reserved: 4}, acc)
	p, err = engine.Proposal(ctx, id)
	require.Nil(t, err)
	assert.Equal(t, uint32(2), p.Ayes)
	v, err := engine.VoteInfo(ctx, alice, id)
	require.Nil(t, err)
	assert.Equal(t, &core.Vote{Decision: core.AyeVote(2), Locked: true}, v)
	assert.Len(t, events.all(), before)
	for _, entry := range hook.AllEntries() {
		assert.NotEqual(t, "vote updated", entry.Message)
	}
}
