package clearing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberReceivesTransitionsInOrder(t *testing.T) {
	payments := &fakePayments{payments: map[string]*Payment{}}
	executor := &fakeExecutor{update: ExecutionUpdate{PacketsCleared: 2, Done: true}}
	engine := testEngine(t, payments, executor, nil)

	resp, err := engine.RequestToken(context.Background(), packetRequest())
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []string
	)

	unsubscribe, err := engine.Subscribe(resp.Token.Token, func(s Status) {
		mu.Lock()
		defer mu.Unlock()

		seen = append(seen, s.Status)
	})
	require.NoError(t, err)

	t.Cleanup(unsubscribe)

	payments.payments["TX1"] = &Payment{
		TxHash: "TX1", ToAddress: testPaymentAddress,
		Amount: resp.Token.TotalRequired, Denom: "uatom",
		Memo: "CLR-" + resp.Token.Token,
	}

	_, err = engine.VerifyPayment(context.Background(), resp.Token.Token, "TX1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(seen) >= 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{StatusPaid, StatusExecuting, StatusCompleted}, seen)
}

func TestSubscribeUnknownToken(t *testing.T) {
	engine := testEngine(t, &fakePayments{}, &fakeExecutor{}, nil)

	_, err := engine.Subscribe("nope", func(Status) {})
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	payments := &fakePayments{payments: map[string]*Payment{}}
	executor := &fakeExecutor{update: ExecutionUpdate{PacketsCleared: 2, Done: true}}
	engine := testEngine(t, payments, executor, nil)

	resp, err := engine.RequestToken(context.Background(), packetRequest())
	require.NoError(t, err)

	var delivered int64

	var mu sync.Mutex

	unsubscribe, err := engine.Subscribe(resp.Token.Token, func(Status) {
		mu.Lock()
		defer mu.Unlock()

		delivered++
	})
	require.NoError(t, err)

	unsubscribe()

	payments.payments["TX1"] = &Payment{
		TxHash: "TX1", ToAddress: testPaymentAddress,
		Amount: resp.Token.TotalRequired, Denom: "uatom",
		Memo: "CLR-" + resp.Token.Token,
	}

	_, err = engine.VerifyPayment(context.Background(), resp.Token.Token, "TX1")
	require.NoError(t, err)

	_, err = engine.PollStatus(context.Background(), resp.Token.Token, 5*time.Millisecond, 200)
	require.NoError(t, err)

	// Delivery stopped before any transition happened.
	mu.Lock()
	defer mu.Unlock()

	assert.Zero(t, delivered)
}

func TestMultipleSubscribersEachGetAllTransitions(t *testing.T) {
	payments := &fakePayments{payments: map[string]*Payment{}}
	executor := &fakeExecutor{update: ExecutionUpdate{PacketsCleared: 2, Done: true}}
	engine := testEngine(t, payments, executor, nil)

	resp, err := engine.RequestToken(context.Background(), packetRequest())
	require.NoError(t, err)

	const subscribers = 3

	var (
		mu     sync.Mutex
		counts [subscribers]int
	)

	for i := 0; i < subscribers; i++ {
		unsubscribe, subErr := engine.Subscribe(resp.Token.Token, func(Status) {
			mu.Lock()
			defer mu.Unlock()

			counts[i]++
		})
		require.NoError(t, subErr)

		t.Cleanup(unsubscribe)
	}

	payments.payments["TX1"] = &Payment{
		TxHash: "TX1", ToAddress: testPaymentAddress,
		Amount: resp.Token.TotalRequired, Denom: "uatom",
		Memo: "CLR-" + resp.Token.Token,
	}

	_, err = engine.VerifyPayment(context.Background(), resp.Token.Token, "TX1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		for _, c := range counts {
			if c < 3 {
				return false
			}
		}

		return true
	}, time.Second, 5*time.Millisecond)
}
