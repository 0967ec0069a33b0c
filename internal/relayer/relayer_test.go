package relayer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/vaultd/internal/domain"
)

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []domain.SignedMetaTx
	err       error
}

func (f *fakeSubmitter) SubmitMetaTx(_ context.Context, tx domain.SignedMetaTx) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, tx)
	return nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func metaTx(id string, nonce uint64, deadline time.Time) domain.SignedMetaTx {
	return domain.SignedMetaTx{
		ID:       id,
		Account:  common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Payload:  domain.MetaTxPayload{Action: domain.ActionClaim},
		Nonce:    nonce,
		Deadline: deadline,
	}
}

func runBriefly(t *testing.T, r *Relayer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)
}

func TestEnqueueAssignsSubmissionID(t *testing.T) {
	r := New(Config{}, &fakeSubmitter{}, nil, nil, nil)
	id, err := r.Enqueue(context.Background(), metaTx("", 0, time.Time{}))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestRunSubmitsQueuedMetaTx(t *testing.T) {
	sub := &fakeSubmitter{}
	r := New(Config{}, sub, nil, nil, nil)

	_, err := r.Enqueue(context.Background(), metaTx("tx-1", 0, time.Now().Add(time.Hour)))
	require.NoError(t, err)

	runBriefly(t, r)
	assert.Equal(t, 1, sub.count())
}

func TestRunDeduplicatesSubmissions(t *testing.T) {
	sub := &fakeSubmitter{}
	r := New(Config{}, sub, nil, nil, nil)

	deadline := time.Now().Add(time.Hour)
	for range 3 {
		_, err := r.Enqueue(context.Background(), metaTx("tx-dup", 0, deadline))
		require.NoError(t, err)
	}

	runBriefly(t, r)
	assert.Equal(t, 1, sub.count())
}

func TestRunSkipsExpiredSubmissions(t *testing.T) {
	sub := &fakeSubmitter{}
	r := New(Config{}, sub, nil, nil, nil)

	_, err := r.Enqueue(context.Background(), metaTx("tx-old", 0, time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	runBriefly(t, r)
	assert.Equal(t, 0, sub.count())
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	r := New(Config{QueueSize: 1}, &fakeSubmitter{}, nil, nil, nil)
	ctx := context.Background()

	_, err := r.Enqueue(ctx, metaTx("a", 0, time.Time{}))
	require.NoError(t, err)
	_, err = r.Enqueue(ctx, metaTx("b", 1, time.Time{}))
	require.ErrorIs(t, err, domain.ErrRateLimited)
}
